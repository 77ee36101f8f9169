package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

// httpService runs the API server under the supervisor.
type httpService struct {
	srv   *http.Server
	grace time.Duration
}

func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server is running on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("server forced to shutdown")
	}
	return ctx.Err()
}

func (s *httpService) String() string {
	return "http-server"
}

func supervisorEvents(e suture.Event) {
	entry := logrus.WithFields(logrus.Fields(e.Map()))
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		entry.Warn(e.String())
	default:
		entry.Info(e.String())
	}
}
