package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGTERM, syscall.SIGINT)

	return gracefulShutdown
}

// ListenForShutdown blocks until SIGINT or SIGTERM, runs signalHandler, waits timeToWait so in-flight
// index passes and HTTP requests can drain, then closes done.
func ListenForShutdown(
	signalChan chan os.Signal,
	done chan bool,
	signalHandler func(),
	timeToWait time.Duration,
	l *zap.Logger,
) {
	sig := <-signalChan
	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		l.Sugar().Infow("caught signal", zap.String("signal", sig.String()))

		signalHandler()

		l.Sugar().Infow("Waiting before exit", zap.Float64("seconds", timeToWait.Seconds()))
		time.Sleep(timeToWait)

		l.Sugar().Infow("Exiting")
		close(done)
	}
}
