package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/go-chi/chi/v5"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/config"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/constant"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/logging"
	"github.com/mirzahilmi/heartsensor/broker/internal/common/middleware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	LogLevel   string `doc:"Log verbosity level" default:"info"`
	ConfigPath string `doc:"Configuration path, JSON or YAML [REQUIRED]" name:"config"`
}

var (
	api    huma.API
	router *chi.Mux
	cfg    config.Config
	app    *broker
)

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *options) {
		if options.ConfigPath == "" {
			log.Fatal().Msg("config: missing CONFIG_PATH")
		}
		var err error
		cfg, err = config.Load(options.ConfigPath)
		if err != nil {
			log.Fatal().Err(err).Msg(fmt.Sprintf("config: cannot load %s", options.ConfigPath))
		}
		logging.Init(options.LogLevel, cfg.IsDevelopment)

		ctx, mainCancel := context.WithCancel(context.Background())

		oapi := huma.DefaultConfig("HSL Broker - OpenAPI 3.0", "1.0.0")
		oapi.DocsPath = ""
		oapi.Info.Description = constant.OAPI_SPEC_DESCRIPTION

		router = chi.NewRouter()
		router.Use(middleware.Recoverer)
		if cfg.IsDevelopment {
			router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				if _, err := w.Write([]byte(constant.OAPI_SPEC_UI)); err != nil {
					log.Debug().Err(err).Msg("docs: failed to write openapi editor ui")
				}
			})
		}

		api = humachi.New(router, oapi)
		app, err = setup(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("app: failed to setup")
		}

		addr := fmt.Sprintf(":%d", cfg.Port)
		server := http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second, // mitigate slowloris attacks
		}

		hooks.OnStart(func() {
			if err := app.attach(ctx); err != nil {
				log.Fatal().Err(err).Msg("app: failed to attach subscribers")
			}
			app.loop.Start(ctx)
			go func() {
				for err := range app.failures {
					log.Error().Err(err).Msg("opensignals: log session ended")
				}
			}()

			log.Info().Msg(fmt.Sprintf("http: listening on 0.0.0.0%s", addr))
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg(fmt.Sprintf("http: failed to listen on 0.0.0.0%s", addr))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(
				context.Background(),
				time.Duration(cfg.ShutdownTimeout)*time.Second,
			)
			defer cancel()

			// streaming responses never finish on their own
			if err := app.hub.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("broadcast: clients did not close in time")
			}
			if err := server.Shutdown(ctx); err != nil {
				log.Fatal().Err(err).Msg("http: failed to shutdown")
			}
			app.close(ctx)
			mainCancel()
			log.Info().Msg("http: shut down complete")
		})
	})

	cli.Root().AddCommand(&cobra.Command{
		Use:   "spec",
		Short: "Print the OpenAPI specification",
		RunE: func(cmd *cobra.Command, args []string) error {
			var spec []byte
			if len(args) == 1 && args[0] == "legacy" {
				raw, err := api.OpenAPI().DowngradeYAML()
				if err != nil {
					return err
				}
				spec = raw
			} else {
				raw, err := api.OpenAPI().YAML()
				if err != nil {
					return err
				}
				spec = raw
			}
			fmt.Println(string(spec))

			return nil
		},
	})

	cli.Root().AddCommand(&cobra.Command{
		Use:   "record",
		Short: "Poll the sensors into the configured OpenSignals logs without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.OpenSignals) == 0 {
				return errors.New("record: no openSignals sessions configured")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.attach(ctx); err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(
					context.Background(),
					time.Duration(cfg.ShutdownTimeout)*time.Second,
				)
				defer cancel()
				app.close(ctx)
			}()
			app.loop.Start(ctx)

			select {
			case <-ctx.Done():
				log.Info().Msg("record: interrupted")
				return nil
			case err := <-app.failures:
				return err
			}
		},
	})

	cli.Run()
}
