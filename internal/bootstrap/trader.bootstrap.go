package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/krobus00/futures-engine/internal/config"
	"github.com/krobus00/futures-engine/internal/constant"
	"github.com/krobus00/futures-engine/internal/entity"
	grpcHandler "github.com/krobus00/futures-engine/internal/handler/engine/grpc"
	httpHandler "github.com/krobus00/futures-engine/internal/handler/engine/http"
	"github.com/krobus00/futures-engine/internal/infrastructure"
	"github.com/krobus00/futures-engine/internal/repository"
	"github.com/krobus00/futures-engine/internal/service/decision"
	"github.com/krobus00/futures-engine/internal/service/engine"
	"github.com/krobus00/futures-engine/internal/service/marketdata"
	"github.com/krobus00/futures-engine/internal/service/orderhistory"
	"github.com/krobus00/futures-engine/internal/service/position"
	"github.com/krobus00/futures-engine/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

func StartTrader(cmd *cobra.Command, args []string) {
	staticDecision, _ := cmd.Flags().GetString("static-decision")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineCfg := config.Env.Engine
	symbols := normalizeSymbols(engineCfg.Symbols)
	if len(symbols) == 0 {
		util.ContinueOrFatal(errors.New("engine.symbols is empty"))
	}

	core, err := newTradingCore(ctx, coreOptions{requireDatabase: true, requireRedis: true})
	util.ContinueOrFatal(err)

	nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
	util.ContinueOrFatal(err)

	decisionRecordRepo := repository.NewDecisionRecordRepository(core.db)
	recordPublisher := decision.NewRecordPublisher(js, logrus.WithField("component", "decision_record"))

	var source engine.DecisionSource
	publishers := []entity.Publisher{recordPublisher}
	subscribers := []entity.Subscriber{}

	if staticDecision != "" {
		source = decision.NewStaticSource(entity.ParseDecision(staticDecision), "static")
		logrus.Warnf("using static decision %s", entity.ParseDecision(staticDecision))
	} else {
		jetStreamSource := decision.NewJetStreamSource(js, decision.JetStreamSourceConfig{
			Symbols:        symbols,
			MaxSignalAge:   engineCfg.MaxSignalAge,
			HandlerTimeout: config.Env.NatsJetstream.TimeoutHandler[constant.DecisionStreamName],
			Logger:         logrus.WithField("component", "decision_source"),
		})
		source = jetStreamSource
		publishers = append(publishers, jetStreamSource)
		subscribers = append(subscribers, jetStreamSource)
	}

	for _, v := range publishers {
		err = v.JetstreamEventInit(ctx)
		util.ContinueOrFatal(err)
	}

	for _, v := range subscribers {
		err = v.JetstreamEventSubscribe(ctx)
		util.ContinueOrFatal(err)
	}

	healthServer := grpcHandler.NewHealthServer(symbols)
	markPriceStream := marketdata.NewMarkPriceStream(config.Env.Exchange.WSURL, symbols,
		marketdata.WithLogger(logrus.WithField("component", "mark_price")),
	)
	_, err = markPriceStream.StreamURL()
	util.ContinueOrFatal(err)

	loopCfg := engine.ConfigFromEngineConfig(engineCfg)
	managers := make([]httpHandler.PositionManager, 0, len(symbols))
	loops := make([]*engine.Loop, 0, len(symbols))
	for _, symbol := range symbols {
		manager := core.newPositionManager(symbol, position.WithStateObserver(healthServer.ObservePosition))
		managers = append(managers, manager)

		loops = append(loops, engine.NewLoop(manager, core.executor, source, loopCfg,
			engine.WithLocker(core.symbolLock),
			engine.WithMarketView(markPriceStream),
			engine.WithRecordRepository(decisionRecordRepo),
			engine.WithRecordPublisher(recordPublisher),
			engine.WithLogger(logrus.WithField("component", "decision_loop")),
		))
	}

	grpcServer := grpc.NewServer()
	healthServer.Register(grpcServer)

	if config.Env.Env == constant.DevelopmentEnvironment {
		reflection.Register(grpcServer)
	}

	grpcPort := infrastructure.ListenAddr(config.Env.Port["engine_grpc"], ":9090")

	lis, err := net.Listen("tcp", grpcPort)
	util.ContinueOrFatal(err)

	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("grpc server started on %s", grpcPort))

	engineHTTPHandler := httpHandler.NewEngineHTTPHandler(managers, core.executor, config.Env.APIKeys,
		httpHandler.WithLocker(core.symbolLock, engineCfg.LockTTL),
		httpHandler.WithSubmitOptions(loopCfg.Submit),
		httpHandler.WithRiskThresholds(loopCfg.Risk),
		httpHandler.WithHistory(decisionRecordRepo, core.orderHistory),
		httpHandler.WithLogger(logrus.WithField("component", "operator_api")),
	)
	httpMux := http.NewServeMux()
	infrastructure.RegisterHealthRoutes(httpMux, func() bool {
		return healthServer.Ready() && core.dbHealth.Healthy()
	})
	engineHTTPHandler.Register(httpMux)

	httpServer := infrastructure.NewHTTPServer(infrastructure.HTTPServerConfig{
		Addr:            config.Env.Port["engine_http"],
		ShutdownTimeout: config.Env.GracefulShutdownTimeout,
	}, httpMux)

	go func() {
		err := httpServer.Start()
		if err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpServer.Addr()))

	orderHistorySync := orderhistory.NewOrderHistorySyncService(core.gateway, core.orderHistory, engineCfg.OrderSyncEvery,
		orderhistory.WithLogger(logrus.WithField("component", "order_history_sync")),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := markPriceStream.Run(groupCtx); err != nil {
			logrus.WithField("component", "mark_price").Error(err)
		}
		return nil
	})
	group.Go(func() error {
		return orderHistorySync.Run(groupCtx)
	})
	for _, loop := range loops {
		group.Go(func() error {
			return loop.Run(groupCtx)
		})
	}

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"decision loops": func(ctx context.Context) error {
			cancel()
			return group.Wait()
		},
		"grpc": func(ctx context.Context) error {
			healthServer.Shutdown()
			grpcServer.GracefulStop()
			return nil
		},
		"http": func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
		"decision source": func(ctx context.Context) error {
			closer, ok := source.(entity.SubscriptionCloser)
			if !ok {
				return nil
			}
			return closer.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return closeAfter(group, func() error { return infrastructure.CloseJetstream(nc) })
		},
		"storage": func(ctx context.Context) error {
			return closeAfter(group, func() error {
				core.close()
				return nil
			})
		},
	})

	<-wait
}

// closeAfter runs fn once the decision loops have returned so their last records are not lost.
func closeAfter(group *errgroup.Group, fn func() error) error {
	_ = group.Wait()
	return fn()
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	result := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		result = append(result, symbol)
	}

	return result
}
