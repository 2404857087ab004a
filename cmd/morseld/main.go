package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/baseleldalil/morsel/internal/browsersession"
	"github.com/baseleldalil/morsel/internal/config"
	"github.com/baseleldalil/morsel/internal/control"
	"github.com/baseleldalil/morsel/internal/logging"
	"github.com/baseleldalil/morsel/internal/model"
	"github.com/baseleldalil/morsel/internal/pacing"
	"github.com/baseleldalil/morsel/internal/store"
)

const version = "0.1.0"

// configRuleResolver adapts the loaded config's single global Pacing
// section into control.RuleResolver. A production deployment would
// resolve per-owner Advanced/PerPlan overrides from wherever plan data
// lives; this CLI only ever has the one global tier.
type configRuleResolver struct {
	cfg config.Config
}

func (r configRuleResolver) ResolveRules(ctx context.Context, ownerID string) (pacing.Rules, model.TimingMode, error) {
	mode := model.TimingAuto
	if r.cfg.Pacing.TimingMode == "manual" {
		mode = model.TimingManual
	}
	rules := pacing.Rules{
		Default: &model.PacingRule{
			MinDelaySeconds:      r.cfg.Pacing.MinDelaySeconds,
			MaxDelaySeconds:      r.cfg.Pacing.MaxDelaySeconds,
			AfterMessageCount:    r.cfg.Pacing.AfterMessageCount,
			PauseDurationMinutes: r.cfg.Pacing.PauseDurationMinutes,
		},
	}
	return rules, mode, nil
}

func loadConfigOrDefault(path string) config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

func defaultConfigPath() string {
	cfgPath, _, err := config.ResolveDefaultPaths()
	if err != nil {
		return ".morsel/config.json"
	}
	return cfgPath
}

func NewRootCmd() *cobra.Command {
	var cfgFlag string

	rootCmd := &cobra.Command{
		Use:   "morseld",
		Short: "morseld — multi-tenant outbound messaging campaign orchestrator",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFlag, "config", "", "path to config.json (default ~/.morsel/config.json)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("morseld v%s\n", version)
		},
	})

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a default config and initialize the store",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath, storePath, err := config.Onboard()
			if err != nil {
				fmt.Fprintf(os.Stderr, "onboard failed: %v\n", err)
				os.Exit(1)
			}
			db, err := store.Open(config.ExpandHome(storePath))
			if err != nil {
				fmt.Fprintf(os.Stderr, "initializing store: %v\n", err)
				os.Exit(1)
			}
			db.Close()
			fmt.Printf("Wrote config to %s\nInitialized store at %s\n", cfgPath, storePath)
		},
	}

	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Link an owner's third-party-app session (shows a QR code)",
		Run: func(cmd *cobra.Command, args []string) {
			owner, _ := cmd.Flags().GetString("owner")
			browser, _ := cmd.Flags().GetString("browser")
			if owner == "" {
				fmt.Fprintln(os.Stderr, "--owner is required")
				os.Exit(1)
			}
			cfg := loadConfigOrDefault(resolveCfgPath(cfgFlag))
			log := logging.Init(false)

			ctx := context.Background()
			mgr, err := browsersession.NewManager(ctx, config.ExpandHome(cfg.Session.DeviceStorePath), cfg.Session.SendsPerMinute, log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "opening session manager: %v\n", err)
				os.Exit(1)
			}
			kind := model.BrowserKind(browser)
			if kind == "" {
				kind = model.BrowserKind(cfg.Session.DefaultBrowser)
			}
			err = mgr.Onboard(ctx, owner, kind, func(code string) {
				qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "session onboarding failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("session linked for owner", owner)
		},
	}
	sessionCmd.Flags().String("owner", "", "owner id to link a session for")
	sessionCmd.Flags().String("browser", "", "browser kind: chrome or firefox (default from config)")
	onboardCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(onboardCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold a control plane open until SIGINT/SIGTERM, then force-close every browser session (it accepts no requests from other processes)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrDefault(resolveCfgPath(cfgFlag))
			log := logging.Init(false)

			db, err := store.Open(config.ExpandHome(cfg.Store.Path))
			if err != nil {
				fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
				os.Exit(1)
			}
			defer db.Close()

			ctx := context.Background()
			sessions, err := browsersession.NewManager(ctx, config.ExpandHome(cfg.Session.DeviceStorePath), cfg.Session.SendsPerMinute, log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "opening session manager: %v\n", err)
				os.Exit(1)
			}

			plane := control.New(db, sessions, configRuleResolver{cfg: cfg}, log)
			defer plane.Close()

			log.Info().Msg("morseld: control plane ready")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			log.Info().Msg("morseld: shutting down, force-closing every browser session")
			plane.ForceCloseAll()
		},
	}
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(newCampaignCmd(&cfgFlag))
	return rootCmd
}

func resolveCfgPath(flag string) string {
	if flag != "" {
		return flag
	}
	return defaultConfigPath()
}

// newCampaignCmd wires a thin local CLI over the same in-process Control
// Plane surface `serve` hosts. There is no HTTP layer, so each invocation
// opens its own handle onto the shared Store and, for start/progress, the
// Store is also how it observes/affects a campaign another `serve`
// process may actually be running (control.Plane.Pause/Resume/Stop
// degrade gracefully to a Store-only CAS in that case).
func newCampaignCmd(cfgFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Start, pause, resume, stop, or inspect a campaign",
	}

	withPlane := func(fn func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error) func(*cobra.Command, []string) {
		return func(c *cobra.Command, args []string) {
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "campaign id required")
				os.Exit(1)
			}
			cfg := loadConfigOrDefault(resolveCfgPath(*cfgFlag))
			log := logging.Init(false)

			db, err := store.Open(config.ExpandHome(cfg.Store.Path))
			if err != nil {
				fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
				os.Exit(1)
			}
			defer db.Close()

			ctx := context.Background()
			sessions, err := browsersession.NewManager(ctx, config.ExpandHome(cfg.Session.DeviceStorePath), cfg.Session.SendsPerMinute, log)
			if err != nil {
				fmt.Fprintf(os.Stderr, "opening session manager: %v\n", err)
				os.Exit(1)
			}
			plane := control.New(db, sessions, configRuleResolver{cfg: cfg}, log)
			defer plane.Close()

			if err := fn(ctx, plane, db, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
		}
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new campaign and print its id",
		Run: func(c *cobra.Command, args []string) {
			owner, _ := c.Flags().GetString("owner")
			name, _ := c.Flags().GetString("name")
			message, _ := c.Flags().GetString("message")
			maleMessage, _ := c.Flags().GetString("male-message")
			femaleMessage, _ := c.Flags().GetString("female-message")
			dupMode, _ := c.Flags().GetString("duplicate-mode")
			attachmentPath, _ := c.Flags().GetString("attachment")
			if owner == "" || name == "" {
				fmt.Fprintln(os.Stderr, "--owner and --name are required")
				os.Exit(1)
			}

			var attachment *model.Attachment
			if attachmentPath != "" {
				data, err := os.ReadFile(attachmentPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "reading attachment: %v\n", err)
					os.Exit(1)
				}
				contentType := mime.TypeByExtension(filepath.Ext(attachmentPath))
				if contentType == "" {
					contentType = http.DetectContentType(data)
				}
				attachment = &model.Attachment{
					Filename:    filepath.Base(attachmentPath),
					ContentType: contentType,
					Kind:        model.ClassifyAttachmentKind(contentType),
					SizeBytes:   int64(len(data)),
					DataBase64:  base64.StdEncoding.EncodeToString(data),
				}
			}

			cfg := loadConfigOrDefault(resolveCfgPath(*cfgFlag))
			db, err := store.Open(config.ExpandHome(cfg.Store.Path))
			if err != nil {
				fmt.Fprintf(os.Stderr, "opening store: %v\n", err)
				os.Exit(1)
			}
			defer db.Close()

			campaign := &model.Campaign{
				ID:                 uuid.NewString(),
				OwnerID:            owner,
				Name:               name,
				Status:             model.CampaignNew,
				CreatedAt:          time.Now(),
				MessageContent:     message,
				MaleContent:        maleMessage,
				FemaleContent:      femaleMessage,
				UseGenderTemplates: maleMessage != "" || femaleMessage != "",
				DuplicateMode:      model.DuplicateMode(dupMode),
				Attachment:         attachment,
			}
			if campaign.DuplicateMode == "" {
				campaign.DuplicateMode = model.DuplicatePerCampaign
			}
			if err := db.CreateCampaign(context.Background(), campaign); err != nil {
				fmt.Fprintf(os.Stderr, "creating campaign: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(campaign.ID)
		},
	}
	createCmd.Flags().String("owner", "", "owner id the campaign belongs to")
	createCmd.Flags().String("name", "", "campaign name")
	createCmd.Flags().String("message", "", "default message template")
	createCmd.Flags().String("male-message", "", "gendered template for male contacts")
	createCmd.Flags().String("female-message", "", "gendered template for female contacts")
	createCmd.Flags().String("duplicate-mode", "", "off, per_campaign, or persistent_per_user (default per_campaign)")
	createCmd.Flags().String("attachment", "", "path to a file to attach (optional)")
	cmd.AddCommand(createCmd)

	startCmd := &cobra.Command{
		Use:   "start <campaign-id>",
		Short: "Start a new or pending campaign",
		Args:  cobra.ExactArgs(1),
		Run: func(c *cobra.Command, args []string) {
			contactIDs, _ := c.Flags().GetStringSlice("contacts")
			browser, _ := c.Flags().GetString("browser")
			kind := model.BrowserKind(browser)
			if kind == "" {
				kind = model.BrowserChrome
			}
			withPlane(func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error {
				return p.Start(ctx, campaignID, contactIDs, kind)
			})(c, args)
		},
	}
	startCmd.Flags().StringSlice("contacts", nil, "comma-separated contact ids to link into the campaign")
	startCmd.Flags().String("browser", "", "browser kind: chrome or firefox (default chrome)")
	cmd.AddCommand(startCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "pause <campaign-id>",
		Short: "Pause a running campaign",
		Args:  cobra.ExactArgs(1),
		Run: withPlane(func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error {
			return p.Pause(ctx, campaignID)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume <campaign-id>",
		Short: "Resume a paused campaign",
		Args:  cobra.ExactArgs(1),
		Run: withPlane(func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error {
			return p.Resume(ctx, campaignID)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <campaign-id>",
		Short: "Stop a campaign permanently",
		Args:  cobra.ExactArgs(1),
		Run: withPlane(func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error {
			return p.Stop(ctx, campaignID)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "progress <campaign-id>",
		Short: "Print a campaign's progress snapshot",
		Args:  cobra.ExactArgs(1),
		Run: withPlane(func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error {
			snap, err := p.Progress(ctx, campaignID)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s %.1f%% (%d/%d sent, %d failed, %.1f%% success)\n",
				snap.CampaignID, snap.Status, snap.PercentComplete,
				snap.MessagesSent, snap.TotalContacts, snap.MessagesFailed, snap.SuccessRate*100)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resend-failed <campaign-id>",
		Short: "Re-stage every failed entry back to pending",
		Args:  cobra.ExactArgs(1),
		Run: withPlane(func(ctx context.Context, p *control.Plane, db store.Store, campaignID string) error {
			n, err := p.ResendFailed(ctx, campaignID)
			if err != nil {
				return err
			}
			fmt.Printf("re-staged %d entries\n", n)
			return nil
		}),
	})

	return cmd
}

func main() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
