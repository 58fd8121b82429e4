package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ezzatsd/CynaApp/internal/di"
)

func ordersCommand() *cli.Command {
	return &cli.Command{
		Name:  "orders",
		Usage: "operational order tooling",
		Subcommands: []*cli.Command{
			{
				Name:  "orphans",
				Usage: "list orders stuck in PENDING_PAYMENT without a payment intent",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "minimum age of an orphan (defaults to API_ORDERS_ORPHAN_AGE)",
					},
					&cli.IntFlag{Name: "limit", Value: 50},
					&cli.BoolFlag{Name: "retry", Usage: "request a new payment intent for each orphan"},
				},
				Action: listOrphans,
			},
		},
	}
}

func listOrphans(c *cli.Context) error {
	rt, err := bootstrap(c, requiredSecretNames(true))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := c.Context
	container, err := di.NewContainer(ctx, rt.cfg, rt.logger, di.WithBuildInfo(buildInfoFromEnv(rt.env, rt.cfg, rt.startedAt)))
	if err != nil {
		return err
	}
	defer container.Close(ctx)

	olderThan := c.Duration("older-than")
	if olderThan <= 0 {
		olderThan = rt.cfg.Orders.OrphanAge
	}
	orphans, err := container.Services.Orders.ListOrphanedOrders(ctx, olderThan, c.Int("limit"))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tUSER\tTOTAL\tCREATED\tRETRY")
	failed := 0
	for _, orphan := range orphans {
		retry := "-"
		if c.Bool("retry") {
			result, err := container.Services.Orders.RetryPaymentIntent(ctx, orphan.OrderID)
			if err != nil {
				failed++
				retry = "failed"
				rt.logger.Warn("payment intent retry failed", zap.String("orderId", orphan.OrderID), zap.Error(err))
			} else {
				retry = "ok"
				if result.Order.HasPaymentIntent() {
					retry = *result.Order.PaymentIntentID
				}
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%d %s\t%s\t%s\n",
			orphan.OrderID, orphan.UserID, orphan.TotalAmount, orphan.Currency,
			orphan.CreatedAt.UTC().Format(time.RFC3339), retry)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d retries failed", failed, len(orphans)), 1)
	}
	return nil
}
