package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/saludapp/salud/internal/catalog"
	"github.com/saludapp/salud/internal/config"
	"github.com/saludapp/salud/internal/game"
	"github.com/saludapp/salud/internal/room"
	"github.com/saludapp/salud/internal/ws"
)

const version = "v1.0.0"

func newCmd(cfg *config.Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SALUD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "salud",
		Short:         "Shared-room party game coordinator: one host, many observers, nobody out of sync.",
		Args:          cobra.ExactArgs(0),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: SALUD_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: SALUD_PORT)")
	fs.StringVar(&cfg.PublicURL, "public-url", "http://localhost:8080", "external base URL used in join QR codes (env: SALUD_PUBLIC_URL)")
	fs.DurationVar(&cfg.RoomTTL, "room-ttl", 6*time.Hour, "time before idle rooms are expired (env: SALUD_ROOM_TTL)")
	fs.DurationVar(&cfg.HostLease, "host-lease", 90*time.Second, "host heartbeat lease before re-election (env: SALUD_HOST_LEASE)")
	fs.DurationVar(&cfg.ReapInterval, "reap-interval", 30*time.Second, "how often expired rooms and lapsed hosts are checked (env: SALUD_REAP_INTERVAL)")
	fs.IntVar(&cfg.Rounds, "rounds", 3, "rounds per game unless the client asks otherwise (env: SALUD_ROUNDS)")
	fs.StringVar(&cfg.ExportFile, "export-file", "", "append final scoreboards to this file (env: SALUD_EXPORT_FILE)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logging (env: SALUD_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("salud {{.Version}}\n")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zerologlog.Logger = zerologlog.Output(cw)
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	store := room.NewStore()
	engine := game.NewEngine(store, catalog.New(), game.Options{
		RoomTTL:       cfg.RoomTTL,
		HostLease:     cfg.HostLease,
		DefaultRounds: cfg.Rounds,
		ExportFile:    cfg.ExportFile,
	})
	engine.StartReaper(ctx, cfg.ReapInterval)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		zerologlog.Info().Str("path", path).Int("status", c.Writer.Status()).Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	sock := ws.New(engine)
	io := sock.Mount(r)
	defer io.Close()

	// Small HTTP surface next to the socket: resolve a join code and
	// share a room as a QR-encoded join link.
	r.GET("/api/room/:code", func(c *gin.Context) {
		rm, err := store.GetRoomByCode(c.Param("code"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"roomId":   rm.ID,
			"joinCode": rm.JoinCode,
			"gameKind": rm.GameKind,
			"phase":    rm.Phase,
			"players":  len(store.Players(rm.ID)),
			"capacity": rm.GameKind.Capacity(),
		})
	})
	r.GET("/api/room/:code/qr", func(c *gin.Context) {
		rm, err := store.GetRoomByCode(c.Param("code"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		joinURL := fmt.Sprintf("%s/join/%s", strings.TrimSuffix(cfg.PublicURL, "/"), rm.JoinCode)
		png, err := qrcode.Encode(joinURL, qrcode.Medium, 256)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr_failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerologlog.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerologlog.Error().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	if err := newCmd(cfg).ExecuteContext(ctx); err != nil {
		zerologlog.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}
