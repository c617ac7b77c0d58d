package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"grievd/internal/app"
	"grievd/internal/config"
	"grievd/internal/sender"
)

func configCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file without starting anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Parse()
			if err != nil {
				return fmt.Errorf("%s: %w", *cfgPath, err)
			}
			if err := app.Validate(cfg); err != nil {
				return fmt.Errorf("%s: %w", *cfgPath, err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: ok\n", *cfgPath)
			driver := strings.TrimSpace(cfg.Store.Driver)
			if driver == "" {
				driver = "memory"
			}
			fmt.Fprintf(w, "  store: %s\n", driver)
			for _, line := range senderStatus(cfg) {
				fmt.Fprintf(w, "  %s\n", line)
			}
			return nil
		},
	})
	return cmd
}

// senderStatus reports which channels will run disabled.
func senderStatus(cfg *config.Config) []string {
	s := cfg.Senders
	tw := sender.TwilioConfig{
		AccountSID: config.Secret(s.Twilio.AccountSID),
		AuthToken:  config.Secret(s.Twilio.AuthToken),
		From:       s.Twilio.From,
		BaseURL:    s.Twilio.BaseURL,
	}
	checks := []struct {
		name string
		snd  sender.Sender
	}{
		{"email", sender.NewEmail(sender.EmailConfig{APIKey: config.Secret(s.Email.APIKey), From: s.Email.From, BaseURL: s.Email.BaseURL})},
		{"sms", sender.NewSMS(tw)},
		{"call", sender.NewCall(tw)},
	}
	out := []string{"push: enabled"}
	for _, c := range checks {
		state := "enabled"
		if sender.IsDisabled(c.snd) {
			state = "disabled (credentials missing or invalid)"
		}
		out = append(out, c.name+": "+state)
	}
	return out
}
