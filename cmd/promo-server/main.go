// Command promo-server serves the discount and checkout API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	promo "github.com/xenking/marketplace-promo/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := promo.LoadConfig()
		if err != nil {
			return err
		}
		return promo.Run(ctx, lg, m, cfg)
	})
}
