// Command bioindex queries pre-built bioindex indexes from the terminal:
// list the catalog, match keys, estimate counts, and stream records.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/seqsift/bioindex/bioindex"
	"github.com/seqsift/bioindex/bioindex/s3"
	"github.com/seqsift/bioindex/bioindex/sqlsource"
	"github.com/seqsift/bioindex/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:           "bioindex",
		Short:         "query pre-built genomic indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("env-file", "e", "", "env file to load before reading the environment")
	root.PersistentFlags().Bool("verbose", false, "enable debug logging")

	root.AddCommand(
		newListCmd(),
		newMatchCmd(),
		newCountCmd(),
		newQueryCmd(),
		newAllCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs once the backends are connected.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *sql.DB
	executor  *bioindex.Executor
	assembler *bioindex.Assembler
	catalog   *bioindex.Catalog
	conts     *bioindex.ContinuationStore
}

func (a *app) Close() {
	a.conts.Close()
	_ = a.db.Close()
	_ = a.log.Sync()
}

// setup connects the key database and object store and refreshes the index
// catalog.
func setup(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	log := zap.NewNop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		log, err = zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
	}

	if cfg.DSN == "" {
		return nil, fmt.Errorf("BIOINDEX_DSN is not set")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening key database: %w", err)
	}

	store, err := objectStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	source := sqlsource.New(db, store, sqlsource.WithLogger(log))
	catalog := bioindex.NewCatalog(sqlsource.NewCatalog(db))
	if err := catalog.Refresh(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	conts, err := bioindex.NewContinuationStore(bioindex.WithTTL(cfg.ContinuationTTL))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &app{
		cfg: cfg,
		log: log,
		db:  db,
		executor: bioindex.NewExecutor(catalog, source,
			bioindex.WithFanout(cfg.Fanout),
			bioindex.WithExecutorLogger(log)),
		assembler: bioindex.NewAssembler(conts,
			bioindex.WithByteBudget(cfg.ResponseLimit),
			bioindex.WithMatchLimit(cfg.MatchLimit),
			bioindex.WithAssemblerLogger(log)),
		catalog: catalog,
		conts:   conts,
	}, nil
}

// objectStore builds the S3 adapter. Static credentials and a custom
// endpoint (MinIO, LocalStack) can be supplied via the environment.
func objectStore(ctx context.Context, cfg *config.Config) (bioindex.ObjectStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("BIOINDEX_S3_BUCKET is not set")
	}

	v := viper.New()
	v.SetEnvPrefix("bioindex")
	v.AutomaticEnv()
	accessKey := v.GetString("s3_access_key")
	secretKey := v.GetString("s3_secret_key")
	endpoint := v.GetString("s3_endpoint")

	var loadOpts []func(*awsconfig.LoadOptions) error
	if accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	return s3.New(client, s3.Config{Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
}
