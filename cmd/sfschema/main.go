// sfschema exports Salesforce object schemas to a blob store and keeps a
// local cache of one exported version.
//
// Usage:
//
//	sfschema export [-version v] [-folder f] [-objects objects.yaml] [Object ...]
//	sfschema fetch  [-version v] [-folder f] [-path dir]
//	sfschema history [-version v]
//	sfschema show   [-version v] [-folder f] [-path dir] Object
//	sfschema describe Object
//
// Everything not given as a flag comes from the environment (see
// internal/config).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fozzylyon/sf-schemas/internal/cache"
	"github.com/fozzylyon/sf-schemas/internal/config"
	"github.com/fozzylyon/sf-schemas/internal/exporter"
	"github.com/fozzylyon/sf-schemas/internal/history"
	"github.com/fozzylyon/sf-schemas/internal/logging"
	"github.com/fozzylyon/sf-schemas/internal/metrics"
	"github.com/fozzylyon/sf-schemas/internal/salesforce"
	"github.com/fozzylyon/sf-schemas/internal/storage"
	"github.com/fozzylyon/sf-schemas/internal/storage/local"
	s3storage "github.com/fozzylyon/sf-schemas/internal/storage/s3"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sfschema <export|fetch|history|show|describe> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(2)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, "")

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "export":
		err = runExport(ctx, cfg, args)
	case "fetch":
		err = runFetch(ctx, cfg, args)
	case "history":
		err = runHistory(ctx, cfg, args)
	case "show":
		err = runShow(ctx, cfg, args)
	case "describe":
		err = runDescribe(ctx, cfg, args)
	default:
		usage()
	}

	if cfg.PushgatewayURL != "" {
		if pushErr := metrics.Push(cfg.PushgatewayURL, "sfschema_"+cmd); pushErr != nil {
			logging.Warn("metrics push failed", zap.Error(pushErr))
		}
	}
	if err != nil {
		logging.WithContext(ctx).Fatal(cmd+" failed", zap.Error(err))
	}
}

func runExport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	version := fs.String("version", cfg.Version, "Schema version token")
	folder := fs.String("folder", cfg.Folder, "Blob store folder")
	objectsFile := fs.String("objects", "", "YAML or JSON file with an objects list")
	fs.Parse(args)

	cfg.Version, cfg.Folder = *version, *folder
	if err := cfg.ValidateExport(); err != nil {
		return err
	}

	objects, err := loadObjects(*objectsFile, fs.Args())
	if err != nil {
		return err
	}

	crm, err := newCRM(cfg)
	if err != nil {
		return err
	}

	store, err := newBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer store.Close()

	expCfg := exporter.Config{Folder: cfg.Folder, Version: cfg.Version}
	if cfg.DatabaseURL != "" {
		hist, err := history.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer hist.Close()
		expCfg.Recorder = hist
	}

	exp, err := exporter.New(crm, store, expCfg)
	if err != nil {
		return err
	}

	logging.WithContext(ctx).Info("starting export",
		zap.String("version", cfg.Version),
		zap.String("folder", cfg.Folder),
		zap.String("backend", store.Type()),
		zap.Strings("objects", objects))

	res, err := exp.Run(ctx, objects)
	if err != nil {
		logging.WithContext(ctx).Error("export stopped",
			zap.Int("uploaded", len(res.Uploaded)),
			zap.Strings("skipped", res.Skipped))
		return err
	}
	return nil
}

func runFetch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	version := fs.String("version", cfg.Version, "Schema version token")
	folder := fs.String("folder", cfg.Folder, "Blob store folder")
	path := fs.String("path", cfg.CachePath, "Local cache directory")
	fs.Parse(args)

	cfg.Version, cfg.Folder, cfg.CachePath = *version, *folder, *path
	if err := cfg.ValidateFetch(); err != nil {
		return err
	}

	store, err := newBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := cache.New(store, cfg.Folder, cfg.CachePath).Load(ctx, cfg.Version)
	if err != nil {
		return err
	}

	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runShow(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	version := fs.String("version", cfg.Version, "Schema version token")
	folder := fs.String("folder", cfg.Folder, "Blob store folder")
	path := fs.String("path", cfg.CachePath, "Local cache directory")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("show takes exactly one object name")
	}
	cfg.Version, cfg.Folder, cfg.CachePath = *version, *folder, *path
	if err := cfg.ValidateFetch(); err != nil {
		return err
	}

	store, err := newBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer store.Close()

	return showCached(ctx, cache.New(store, cfg.Folder, cfg.CachePath), cfg.Version, fs.Arg(0), os.Stdout)
}

func runDescribe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("describe takes exactly one object name")
	}
	if err := cfg.ValidateSalesforce(); err != nil {
		return err
	}

	crm, err := newCRM(cfg)
	if err != nil {
		return err
	}
	if err := describeLive(ctx, crm, fs.Arg(0), os.Stdout); err != nil {
		return err
	}
	logging.WithContext(ctx).Debug("described live object",
		zap.String("object", fs.Arg(0)),
		zap.String("instance_url", crm.InstanceURL()))
	return nil
}

func runHistory(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	version := fs.String("version", "", "List the objects of one version instead of all versions")
	fs.Parse(args)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for history")
	}
	hist, err := history.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer hist.Close()

	if *version == "" {
		versions, err := hist.Versions(ctx)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("%s\t%d\t%s\n", v.Version, v.Objects, v.LastExported.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	}

	entries, err := hist.Entries(ctx, *version)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%d\t%d\n", e.Object, e.Key, e.FieldCount, e.NestedCount)
	}
	return nil
}

func newCRM(cfg *config.Config) (*salesforce.Client, error) {
	creds, err := credentials(cfg)
	if err != nil {
		return nil, err
	}
	return salesforce.New(salesforce.Config{
		LoginURL:    cfg.SFLoginURL,
		TokenURL:    cfg.SFTokenURL,
		APIVersion:  cfg.SFAPIVersion,
		Credentials: creds,
	}), nil
}

func credentials(cfg *config.Config) (salesforce.Credentials, error) {
	creds := salesforce.Credentials{
		Mode:          cfg.SFAuthMode,
		ClientID:      cfg.SFClientID,
		ClientSecret:  cfg.SFClientSecret,
		Username:      cfg.SFUsername,
		Password:      cfg.SFPassword,
		SecurityToken: cfg.SFSecurityToken,
	}
	if cfg.SFAuthMode != config.AuthJWT {
		return creds, nil
	}

	pemBytes, err := os.ReadFile(cfg.SFPrivateKeyFile)
	if err != nil {
		return creds, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return creds, fmt.Errorf("parse private key: %w", err)
	}
	creds.PrivateKey = key
	return creds, nil
}

// newBackend builds the configured blob store. Writers may create the
// local root or the bucket; readers never do.
func newBackend(ctx context.Context, cfg *config.Config, writer bool) (storage.Backend, error) {
	var raw json.RawMessage
	var err error

	switch cfg.StorageBackend {
	case "s3":
		raw, err = json.Marshal(s3storage.BackendConfig{
			Endpoint:     cfg.S3Endpoint,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Region:       cfg.S3Region,
			UseSSL:       cfg.S3UseSSL,
			CreateBucket: writer && cfg.S3Endpoint != "",
		})
	default:
		raw, err = json.Marshal(local.Config{
			RootPath:   cfg.LocalStoragePath,
			CreateDirs: writer,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("encode backend config: %w", err)
	}

	return storage.NewBackendFromConfig(ctx, cfg.StorageBackend, raw)
}
