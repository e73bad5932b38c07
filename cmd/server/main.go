// CivicDesk - Community service request desk
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aethra/civicdesk/internal/api"
	"github.com/aethra/civicdesk/internal/config"
	"github.com/aethra/civicdesk/internal/database"
	"github.com/aethra/civicdesk/internal/models"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var Version = "1.0.0"

var (
	envFile    string
	configFile string
	ssmPath    string
)

var rootCmd = &cobra.Command{
	Use:           "civicdesk",
	Short:         "Community service request desk",
	Long:          "CivicDesk serves the resident request API. Run without a subcommand to start the server.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		fmt.Println("Migrations complete")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert default sub-sectors, request types and the first admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := database.Seed(a.db, a.cfg.Seed, a.logger); err != nil {
			return err
		}
		fmt.Println("Seed complete")
		return nil
	},
}

// =============================================================================
// USER COMMANDS
// =============================================================================

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var (
	adminEmail    string
	adminPassword string
	adminName     string
)

var userCreateAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an approved administrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		user, err := database.CreateAdmin(a.db, adminEmail, adminPassword, adminName, a.logger)
		if err != nil {
			return err
		}
		fmt.Printf("Admin created: %s (id %d)\n", user.Email, user.ID)
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		var users []models.User
		if err := a.db.Order("id ASC").Find(&users).Error; err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%d\t%s <%s>\t%s\t%s\t%s\n", u.ID, u.FullName, u.Email, u.Role, u.ApprovalStatus, u.AccountStatus)
		}
		return nil
	},
}

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings stored in the database",
}

var (
	configCategory string
	configSecret   bool
)

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.settings.Set(args[0], args[1], configCategory, configSecret); err != nil {
			return err
		}
		fmt.Printf("Set %s\n", args[0])
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the resolved value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		fmt.Println(a.settings.Get(args[0]))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings stored in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		all := a.settings.GetAllConfig()
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s=%s\n", k, all[k])
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading settings")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "YAML settings file")
	rootCmd.PersistentFlags().StringVar(&ssmPath, "ssm-path", os.Getenv("SSM_PATH"), "SSM Parameter Store path to read settings from")

	userCreateAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email (required)")
	userCreateAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password (required)")
	userCreateAdminCmd.Flags().StringVar(&adminName, "name", "Admin", "display name")
	_ = userCreateAdminCmd.MarkFlagRequired("email")
	_ = userCreateAdminCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userCreateAdminCmd, userListCmd)

	configSetCmd.Flags().StringVar(&configCategory, "category", "general", "setting category")
	configSetCmd.Flags().BoolVar(&configSecret, "secret", false, "mask the value in listings")
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, userCmd, configCmd)
}

func main() {
	api.Version = Version
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// app holds the process-wide dependencies shared by every command
type app struct {
	cfg      *config.Config
	settings *config.ConfigService
	db       *gorm.DB
	logger   *logrus.Logger
}

// bootstrap loads settings, connects to the database and applies migrations
func bootstrap(ctx context.Context) (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	logger := config.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	sources, err := configSources(ctx)
	if err != nil {
		return nil, err
	}
	settings := config.NewConfigService(ctx, logger, sources...)

	// Settings from files and SSM may change the log setup
	early := settings.LoadConfig()
	logger = config.NewLogger(early.Logging.Level, early.Logging.Format)

	db, err := database.Connect(early.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.RunMigrations(db, logger); err != nil {
		closeDB(db, logger)
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	settings.AttachDB(db)
	return &app{cfg: settings.LoadConfig(), settings: settings, db: db, logger: logger}, nil
}

func configSources(ctx context.Context) ([]config.Source, error) {
	var sources []config.Source
	if configFile != "" {
		sources = append(sources, &config.FileSource{Path: configFile})
	}
	if ssmPath != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		sources = append(sources, &config.SSMSource{SSM: ssm.NewFromConfig(awsCfg), Path: ssmPath})
	}
	return sources, nil
}

func (a *app) close() {
	closeDB(a.db, a.logger)
}

func closeDB(db *gorm.DB, logger *logrus.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
		logger.WithError(err).Warn("Failed to close database")
	}
}
