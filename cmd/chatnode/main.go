package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jabolina/go-groupchat/pkg/chat"
	"github.com/jabolina/go-groupchat/pkg/chat/core"
	"github.com/jabolina/go-groupchat/pkg/chat/output"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	name        = kingpin.Flag("name", "Name shown to the other participants.").Required().String()
	bind        = kingpin.Flag("bind", "Address this participant listens on.").Default("127.0.0.1:0").String()
	registry    = kingpin.Flag("registry", "Address of the membership registry.").Default("127.0.0.1:7400").String()
	lockTimeout = kingpin.Flag("lock-timeout", "How long the floor can be held.").Default(chat.DefaultLockTimeout.String()).Duration()
	web         = kingpin.Flag("http", "Serve the chat over HTTP and websocket on this address.").String()
	debug       = kingpin.Flag("debug", "Enable debug logging.").Bool()
)

func main() {
	kingpin.Version("0.1.0")
	kingpin.Parse()

	conf := chat.DefaultConfiguration(*name)
	conf.Address = types.NodeID(*bind)
	conf.Registry = types.NodeID(*registry)
	conf.LockTimeout = *lockTimeout
	if *debug {
		conf.Logger.ToggleDebug(true)
	}

	displays := output.Multi{output.NewTerminal(os.Stdout)}
	var socket *output.WebSocket
	if *web != "" {
		socket = output.NewWebSocket(conf.Logger.AddContext("websocket"))
		displays = append(displays, socket)
	}
	conf.Display = displays

	client, err := chat.NewClient(conf)
	if err != nil {
		kingpin.Fatalf("failed joining the chat at %s. %v", *registry, err)
	}

	var server *http.Server
	if socket != nil {
		server = serve(*web, client, socket, conf.Logger)
	}

	lines := make(chan string)
	go read(lines)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	running := true
	for running {
		select {
		case <-signals:
			running = false
		case line, ok := <-lines:
			if !ok {
				running = false
				continue
			}

			if err := send(client, line); err != nil {
				conf.Logger.Warnf("%v", err)
			}
		}
	}

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		server.Shutdown(ctx)
		cancel()
		socket.Close()
	}

	if err := client.Close(); err != nil {
		conf.Logger.Errorf("failed leaving the chat. %v", err)
	}
	conf.Cancel()
}

// Reads the standard input line by line until EOF.
func read(lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func send(client *core.Client, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	err := client.Send(line)
	if errors.Is(err, types.ErrFloorTaken) {
		return errors.New("someone else is holding the floor, wait for the release")
	}
	return err
}

// Serves the websocket feed and accepts lines through POST requests.
func serve(address string, client *core.Client, socket *output.WebSocket, log types.Logger) *http.Server {
	router := mux.NewRouter().StrictSlash(true)
	router.Handle("/ws", socket)
	router.HandleFunc("/send", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch err := send(client, r.FormValue("text")); {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, types.ErrBootstrapping):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusConflict)
		}
	}).Methods(http.MethodPost)

	router.HandleFunc("/floor", func(w http.ResponseWriter, r *http.Request) {
		var err error
		if r.Method == http.MethodPost {
			err = client.RequestFloor()
		} else {
			err = client.ReleaseFloor()
		}

		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost, http.MethodDelete)

	server := &http.Server{Addr: address, Handler: router}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server failed. %v", err)
		}
	}()
	log.Infof("serving the chat on http://%s/ws", address)
	return server
}
