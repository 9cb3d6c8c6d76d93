// Command callrelay runs the websocket signaling relay used by
// signaling.WebsocketTransport.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/skylark-im/callkit/relay"
)

func main() {
	config := relay.LoadConfig()

	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	hub := relay.NewHub(config.AllowedOrigins)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(mux)

	logrus.WithFields(logrus.Fields{
		"function": "main",
		"addr":     config.Addr,
	}).Info("callrelay listening")

	if err := http.ListenAndServe(config.Addr, handler); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
		}).WithError(err).Error("server stopped")
		os.Exit(1)
	}
}
