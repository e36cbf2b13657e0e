package main

import (
	"context"
	"os"

	"github.com/alovak/cardflow-checkout/checkout"
	"github.com/aws/aws-lambda-go/lambda"
	"golang.org/x/exp/slog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := checkout.LoadConfig(os.Getenv("CHECKOUT_CONFIG"))
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}

	components, err := checkout.Build(context.Background(), logger, cfg)
	if err != nil {
		logger.Error("building components", "err", err)
		os.Exit(1)
	}

	handler := checkout.NewLambdaHandler(components.Reconciler)
	lambda.Start(handler.Handle)
}
