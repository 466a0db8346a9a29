// Command user-admin bootstraps and manages accounts directly against the
// database. There is no self-registration endpoint, so operators use this to
// create the first users.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/rustygpt/rustygpt/internal/auth"
	"github.com/rustygpt/rustygpt/internal/config"
	"github.com/rustygpt/rustygpt/internal/store"
)

func main() {
	var (
		email       = flag.String("email", "", "Email for the new account")
		username    = flag.String("username", "", "Username for the new account")
		displayName = flag.String("display-name", "", "Display name (optional)")
		password    = flag.String("password", "", "Password; read from USER_ADMIN_PASSWORD when empty")
		roles       = flag.String("roles", "user", "Comma-separated role list")
		disable     = flag.String("disable", "", "Disable the account with this user id instead of creating one")
		enable      = flag.String("enable", "", "Re-enable the account with this user id")
		showHelp    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *showHelp {
		fmt.Println("User Admin")
		fmt.Println("Usage: go run cmd/user-admin/main.go [options]")
		fmt.Println("")
		flag.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Println("  go run cmd/user-admin/main.go -email alice@example.com -username alice")
		fmt.Println("  go run cmd/user-admin/main.go -email root@example.com -username root -roles user,admin")
		fmt.Println("  go run cmd/user-admin/main.go -disable 8f14e45f-...")
		return
	}

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	config.LoadConfig()

	db, err := store.InitDatabase(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.DB.Close() //nolint:errcheck

	ctx := context.Background()

	if *disable != "" || *enable != "" {
		id, disabled := *disable, true
		if *enable != "" {
			id, disabled = *enable, false
		}
		uid, err := uuid.Parse(id)
		if err != nil {
			log.Fatalf("Invalid user id %q: %v", id, err)
		}
		if err := db.SetUserDisabled(ctx, uid, disabled); err != nil {
			log.Fatalf("Failed to update account: %v", err)
		}
		if disabled {
			if err := db.RevokeUserSessions(ctx, uid, "account_disabled"); err != nil {
				log.Fatalf("Account disabled but session revocation failed: %v", err)
			}
			fmt.Printf("Disabled %s and revoked its sessions\n", uid)
		} else {
			fmt.Printf("Enabled %s\n", uid)
		}
		return
	}

	if *email == "" || *username == "" {
		log.Fatal("Both -email and -username are required")
	}

	pw := *password
	if pw == "" {
		pw = os.Getenv("USER_ADMIN_PASSWORD")
	}
	if pw == "" {
		log.Fatal("Provide -password or set USER_ADMIN_PASSWORD")
	}

	hash, err := auth.HashPassword(pw, auth.ArgonProfile(config.AppConfig.ArgonProfile))
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	roleList := strings.Split(*roles, ",")
	for i := range roleList {
		roleList[i] = strings.TrimSpace(roleList[i])
	}

	user, err := db.CreateUser(ctx, *email, *username, *displayName, hash, roleList)
	if err != nil {
		log.Fatalf("Failed to create user: %v", err)
	}

	fmt.Printf("Created user:\n")
	fmt.Printf("  id:       %s\n", user.ID)
	fmt.Printf("  email:    %s\n", user.Email)
	fmt.Printf("  username: %s\n", user.Username)
	fmt.Printf("  roles:    %s\n", strings.Join(user.Roles, ", "))
}
