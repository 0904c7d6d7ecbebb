package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wayfarerhq/plansync/internal/config"
	"github.com/wayfarerhq/plansync/internal/editclient"
	"github.com/wayfarerhq/plansync/internal/journal"
	"github.com/wayfarerhq/plansync/internal/plan"
	"github.com/wayfarerhq/plansync/internal/planmeta"
)

func main() {
	configPath := strings.TrimSpace(os.Getenv("PLANSYNC_CONFIG"))
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := log.Default()
	registry := prometheus.NewRegistry()
	metrics := editclient.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry)
	}

	// The journal is keyed by client, so an id is pinned here rather than
	// left for the session to generate.
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	var backend journal.Backend
	if cfg.JournalFile != "" || cfg.JournalPostgresDSN != "" {
		backend, err = journal.Open(cfg.JournalFile, cfg.JournalPostgresDSN, journal.Key{
			GroupID:  cfg.GroupID,
			PlanID:   cfg.PlanID,
			ClientID: clientID,
		})
		if err != nil {
			log.Fatalf("open journal: %v", err)
		}
	}

	if cfg.APIBaseURL != "" {
		printPlanMeta(cfg)
	}

	transport := editclient.NewTransport(editclient.TransportOptions{
		URL:            cfg.BrokerURL,
		Token:          cfg.Token,
		ReconnectDelay: cfg.ReconnectDelay.Std(),
		Logger:         logger,
		Metrics:        metrics,
	})

	done := make(chan string, 1)
	session, err := editclient.NewSession(editclient.SessionOptions{
		Transport:  transport,
		Journal:    backend,
		GroupID:    cfg.GroupID,
		PlanID:     cfg.PlanID,
		UserID:     cfg.UserID,
		ClientID:   clientID,
		AckTimeout: cfg.AckTimeout.Std(),
		Logger:     logger,
		Metrics:    metrics,
		OnJoined: func() {
			log.Printf("joined edit session for plan %s", cfg.PlanID)
		},
		OnApplied: func(op plan.Operation) {
			log.Printf("applied %s from %s", op.Type, op.ClientID)
		},
		OnPeerJoin: func(peer editclient.Peer) {
			log.Printf("%s joined the session", peer.UserID)
		},
		OnPeerLeave: func(clientID string) {
			log.Printf("client %s left the session", clientID)
		},
		OnSaved: func() {
			done <- "plan saved"
		},
		OnEvicted: func() {
			done <- "evicted by server"
		},
		OnSaveFailed: func(err error) {
			log.Printf("save failed: %v (retry with 'save')", err)
		},
	})
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	defer session.Close()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, func(config.Config) {
			log.Printf("config file changed; connection settings apply on next start")
		})
		if err != nil {
			log.Printf("config watch unavailable: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	session.Start()
	go repl(session, done)

	reason := <-done
	session.Leave()
	log.Printf("exiting: %s", reason)
}

func serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server failed: %v", err)
	}
}

func printPlanMeta(cfg config.Config) {
	client := planmeta.NewClient(planmeta.ClientOptions{
		BaseURL:       cfg.APIBaseURL,
		TokenProvider: planmeta.StaticToken(cfg.Token),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	meta, err := client.Meta(ctx, cfg.GroupID, cfg.PlanID)
	if err != nil {
		log.Printf("plan metadata unavailable: %v", err)
		return
	}
	log.Printf("editing %q (%s to %s, %d days)", meta.Title, meta.StartDate, meta.EndDate, meta.DayCount)
}

func repl(session *editclient.Session, done chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	out := os.Stdout
	fmt.Fprintln(out, "commands: list, peers, insert, move, moveday, update, delete, save, refresh, quit")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := runCommand(session, out, line); quit {
			done <- "quit"
			return
		}
	}
	done <- "stdin closed"
}

func runCommand(session *editclient.Session, out io.Writer, line string) bool {
	args := strings.Fields(line)
	cmd := strings.ToLower(args[0])
	args = args[1:]

	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "list":
		fmt.Fprint(out, renderItinerary(session.Store()))
	case "peers":
		for _, peer := range session.Peers() {
			fmt.Fprintf(out, "%s (%s)\n", peer.UserID, peer.ClientID)
		}
	case "insert":
		var day, index int
		var fields plan.NewItemFields
		day, index, fields, err = parseInsertArgs(args)
		if err == nil {
			_, err = session.Insert(day, index, fields)
		}
	case "move":
		if len(args) != 2 {
			err = fmt.Errorf("usage: move <crdtId> <index>")
			break
		}
		var index int
		index, err = strconv.Atoi(args[1])
		if err == nil {
			_, err = session.Move(args[0], index)
		}
	case "moveday":
		if len(args) != 3 {
			err = fmt.Errorf("usage: moveday <crdtId> <newDay> <index>")
			break
		}
		var newDay, index int
		if newDay, err = strconv.Atoi(args[1]); err == nil {
			if index, err = strconv.Atoi(args[2]); err == nil {
				_, err = session.MoveToDay(args[0], newDay, index)
			}
		}
	case "update":
		if len(args) != 3 {
			err = fmt.Errorf("usage: update <crdtId> cost|category <value>")
			break
		}
		var patch plan.ItemPatch
		patch, err = parsePatch(args[1], args[2])
		if err == nil {
			_, err = session.Update(args[0], patch)
		}
	case "delete":
		if len(args) != 1 {
			err = fmt.Errorf("usage: delete <crdtId>")
			break
		}
		_, err = session.Delete(args[0])
	case "save":
		err = session.Save()
	case "refresh":
		err = session.Refresh()
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return false
}

// parseInsertArgs reads: <day> <index> <category> <cost> <place...>
func parseInsertArgs(args []string) (int, int, plan.NewItemFields, error) {
	if len(args) < 5 {
		return 0, 0, plan.NewItemFields{}, fmt.Errorf("usage: insert <day> <index> <category> <cost> <place>")
	}
	day, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, plan.NewItemFields{}, fmt.Errorf("invalid day %q", args[0])
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, plan.NewItemFields{}, fmt.Errorf("invalid index %q", args[1])
	}
	category := plan.CategoryCode(strings.ToLower(args[2]))
	if !category.Valid() {
		return 0, 0, plan.NewItemFields{}, fmt.Errorf("invalid category %q", args[2])
	}
	cost, err := strconv.Atoi(args[3])
	if err != nil {
		return 0, 0, plan.NewItemFields{}, fmt.Errorf("invalid cost %q", args[3])
	}
	fields := plan.NewItemFields{
		Place:        strings.Join(args[4:], " "),
		Cost:         cost,
		CategoryCode: category,
	}
	return day, index, fields, nil
}

func parsePatch(field, value string) (plan.ItemPatch, error) {
	switch strings.ToLower(field) {
	case "cost":
		cost, err := strconv.Atoi(value)
		if err != nil {
			return plan.ItemPatch{}, fmt.Errorf("invalid cost %q", value)
		}
		return plan.ItemPatch{Cost: &cost}, nil
	case "category":
		category := plan.CategoryCode(strings.ToLower(value))
		if !category.Valid() {
			return plan.ItemPatch{}, fmt.Errorf("invalid category %q", value)
		}
		return plan.ItemPatch{CategoryCode: &category}, nil
	}
	return plan.ItemPatch{}, fmt.Errorf("unknown field %q, want cost or category", field)
}

func renderItinerary(store *plan.Store) string {
	var b strings.Builder
	days := store.Days()
	if len(days) == 0 {
		return "itinerary is empty\n"
	}
	for _, day := range days {
		fmt.Fprintf(&b, "day %d\n", day)
		for i, item := range store.Day(day) {
			fmt.Fprintf(&b, "  %d. %s [%s, %d] (%s)\n", i, item.Place, item.CategoryCode, item.Cost, item.CrdtID)
		}
	}
	return b.String()
}
