package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"trigger-vault-go/internal/config"
	"trigger-vault-go/internal/database"
	"trigger-vault-go/internal/logger"
	"trigger-vault-go/internal/models"
	"trigger-vault-go/internal/vault"
)

const usage = `vaultctl manages stored exchange credentials.

Usage:
  vaultctl genkey
  vaultctl connect -user <id> -exchange <name> -key <k> -secret <s> [-passphrase <p>] [-label <l>] [-trading]
  vaultctl list -user <id>
  vaultctl disable -user <id> -exchange <name>
  vaultctl remove -user <id> -exchange <name>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// genkey needs no config or database.
	if os.Args[1] == "genkey" {
		key, err := vault.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	enc, err := vault.NewEncryptorFromHexKey(cfg.Vault.EncryptionKey)
	if err != nil {
		log.Fatal("Invalid vault encryption key", zap.Error(err))
	}
	v := vault.NewVault(db, enc, cfg.Vault.KeyVersion, log)

	switch os.Args[1] {
	case "connect":
		fs := flag.NewFlagSet("connect", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		exchangeName := fs.String("exchange", "", "exchange name")
		key := fs.String("key", "", "API key")
		secret := fs.String("secret", "", "API secret")
		passphrase := fs.String("passphrase", "", "API passphrase (OKX)")
		label := fs.String("label", "", "display label")
		trading := fs.Bool("trading", false, "enable live trading for this credential")
		fs.Parse(os.Args[2:])

		if *user == "" || *exchangeName == "" || *key == "" || *secret == "" {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}

		cred, err := v.Upsert(*user, models.Exchange(*exchangeName), vault.Keys{
			APIKey:     *key,
			SecretKey:  *secret,
			Passphrase: *passphrase,
		}, vault.UpsertOptions{Label: *label, ActiveTrading: trading})
		if err != nil {
			log.Fatal("Failed to store credential", zap.Error(err))
		}
		fmt.Printf("Stored credential #%d for %s/%s (active_trading=%v)\n",
			cred.ID, cred.UserID, cred.Exchange, cred.ActiveTrading)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		user := fs.String("user", "", "user id")
		fs.Parse(os.Args[2:])

		creds, err := v.List(*user)
		if err != nil {
			log.Fatal("Failed to list credentials", zap.Error(err))
		}
		for _, c := range creds {
			fmt.Printf("#%d %s/%s label=%q active=%v trading=%v key_version=%d\n",
				c.ID, c.UserID, c.Exchange, c.Label, c.IsActive, c.ActiveTrading, c.KeyVersion)
		}

	case "disable":
		user, exchangeName := userExchangeFlags("disable")
		if err := v.SetActive(user, models.Exchange(exchangeName), false); err != nil {
			log.Fatal("Failed to disable credential", zap.Error(err))
		}
		fmt.Printf("Disabled credential for %s/%s\n", user, exchangeName)

	case "remove":
		user, exchangeName := userExchangeFlags("remove")
		if err := v.Remove(user, models.Exchange(exchangeName)); err != nil {
			log.Fatal("Failed to remove credential", zap.Error(err))
		}
		fmt.Printf("Removed credential for %s/%s\n", user, exchangeName)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func userExchangeFlags(name string) (string, string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	user := fs.String("user", "", "user id")
	exchangeName := fs.String("exchange", "", "exchange name")
	fs.Parse(os.Args[2:])

	if *user == "" || *exchangeName == "" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	return *user, *exchangeName
}
