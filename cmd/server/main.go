package main

import (
	"github.com/sraws/backend/internal/router"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		router.InfraModules,
		router.RepositoryModules,
		router.DeliveryModules,
		router.EchoModules,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)

	app.Run()
}
