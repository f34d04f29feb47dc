package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jabolina/go-groupchat/pkg/chat"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	bind     = kingpin.Flag("bind", "Address the registry listens on.").Default("127.0.0.1:7400").String()
	liveness = kingpin.Flag("liveness", "Members silent for this long are removed.").Default(chat.DefaultLivenessTimeout.String()).Duration()
	debug    = kingpin.Flag("debug", "Enable debug logging.").Bool()
)

func main() {
	kingpin.Version("0.1.0")
	kingpin.Parse()

	conf := chat.DefaultRegistryConfiguration()
	conf.Address = types.NodeID(*bind)
	conf.LivenessTimeout = *liveness
	if *debug {
		conf.Logger.ToggleDebug(true)
	}

	registry, err := chat.NewRegistry(conf)
	if err != nil {
		kingpin.Fatalf("failed starting registry. %v", err)
	}

	conf.Logger.Infof("registry listening on %s", registry.Address())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	conf.Logger.Infof("shutting down the registry")
	if err := registry.Close(); err != nil {
		conf.Logger.Errorf("failed closing registry. %v", err)
	}
	conf.Cancel()
}
