package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"batchgen/internal/credentials"
	"batchgen/internal/settings"
)

func credentialsCmd() *cli.Command {
	return &cli.Command{
		Name:  "credentials",
		Usage: "Manage provider API keys",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Store an API key in the credential library, or the settings file without a database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Label for the key", Required: true},
					&cli.StringFlag{Name: "platform", Usage: "Provider the key belongs to (default: CREDENTIAL_PLATFORM)"},
					&cli.StringFlag{Name: "key", Usage: "The secret", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					rt, err := loadBase(ctx, cmd.String("settings"))
					if err != nil {
						return err
					}
					defer rt.Close()

					name := strings.TrimSpace(cmd.String("name"))
					secret := strings.TrimSpace(cmd.String("key"))
					platform := strings.TrimSpace(cmd.String("platform"))
					if platform == "" {
						platform = rt.cfg.CredentialPlatform
					}

					if rt.library != nil {
						if err := rt.library.Add(ctx, name, platform, secret); err != nil {
							return err
						}
						fmt.Printf("credential %q (%s) stored in the library as %s\n", name, platform, credentials.MaskSecret(secret))
						return nil
					}

					if err := rt.settings.AddCredential(settings.Credential{Name: name, Platform: platform, Secret: secret}); err != nil {
						return err
					}
					if err := settings.Save(rt.settingsPath, rt.settings); err != nil {
						return err
					}
					fmt.Printf("credential %q (%s) stored in %s as %s\n", name, platform, rt.settingsPath, credentials.MaskSecret(secret))
					return nil
				},
			},
		},
	}
}
