// Command eventbufd is a small runnable demonstration of the eventbuf
// engine: it wires a config-driven batching dispatcher to a couple of demo
// subscribers and a line-based event generator, printing periodic stats.
// It is not a production transport; transport of delivered batches to real
// subscribers is left to the integrating service.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hadyat/eventbuf/internal/eventbuf/config"
	"github.com/hadyat/eventbuf/internal/eventbuf/dispatch"
	"github.com/hadyat/eventbuf/internal/eventbuf/liveness/poll"
	elog "github.com/hadyat/eventbuf/internal/eventbuf/log"
	emetrics "github.com/hadyat/eventbuf/internal/eventbuf/metrics"
)

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	var c config.Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func main() {
	app := &cli.App{
		Name:  "eventbufd",
		Usage: "Demonstrate the eventbuf buffering and fan-out engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a dispatcher config YAML file"},
			&cli.IntFlag{Name: "subscribers", Value: 2, Usage: "Number of demo subscribers to register"},
			&cli.DurationFlag{Name: "stats-interval", Value: 2 * time.Second, Usage: "How often to print Stats() to stderr"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("eventbufd: loading config: %w", err)
	}

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	logger := elog.NewZap(zapLogger)
	recorder := emetrics.NewPrometheus("eventbufd", prometheus.NewRegistry())

	mailboxes := make(map[string]chan dispatch.Delivery[string, string])
	n := c.Int("subscribers")
	for i := 0; i < n; i++ {
		sub := fmt.Sprintf("sub-%d", i)
		mailboxes[sub] = make(chan dispatch.Delivery[string, string], 64)
	}

	deliver := func(d dispatch.Delivery[string, string]) {
		mb, ok := mailboxes[d.Subscriber]
		if !ok {
			return
		}
		select {
		case mb <- d:
		default:
			logger.Warnf("mailbox for %s full, dropping delivery of %d events", d.Subscriber, len(d.Events))
		}
	}

	disp, err := config.BuildBatching(cfg, dispatch.DispatcherID("eventbufd"), deliver, recorder, logger)
	if err != nil {
		return fmt.Errorf("eventbufd: building dispatcher: %w", err)
	}
	defer disp.Close()

	watcher := poll.New[string](func(string) bool { return true })
	go relayDowns(watcher, disp, logger)

	for sub, mb := range mailboxes {
		go consume(sub, mb)
		disp.Ask(sub, 8)
		if tok, ok := disp.Token(sub); ok {
			watcher.Watch(sub, tok)
		}
	}

	statsDone := make(chan struct{})
	go printStats(disp, c.Duration("stats-interval"), statsDone)
	defer close(statsDone)

	return generate(disp)
}

// relayDowns forwards disappearance signals from watcher into disp's
// NotifyDown, closing the loop between the poll-based liveness backend and
// the dispatcher's own liveness tracker.
func relayDowns(watcher *poll.Watcher[string], disp *dispatch.Batching[string, string], logger elog.Modular) {
	for down := range watcher.Downs() {
		logger.Warnf("subscriber %s reported down by liveness poll", down.Subscriber)
		disp.NotifyDown(down.Subscriber, down.Token)
	}
}

func consume(sub string, mb <-chan dispatch.Delivery[string, string]) {
	for d := range mb {
		fmt.Printf("[%s] received %d event(s): %v\n", sub, len(d.Events), d.Events)
	}
}

func printStats(disp *dispatch.Batching[string, string], interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s, err := disp.Stats()
			if err != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "stats: buffered=%d subscribed=%d demand=%d\n", s.Buffered, s.Subscribed, s.Demand)
		case <-done:
			return
		}
	}
}

// generate reads newline-delimited events from stdin and appends them to
// disp, one line per event. Each line is tagged with a monotonic index so
// output order is easy to eyeball.
func generate(disp *dispatch.Batching[string, string]) error {
	scanner := bufio.NewScanner(os.Stdin)
	i := 0
	for scanner.Scan() {
		line := scanner.Text()
		event := strconv.Itoa(i) + ":" + line
		if _, err := disp.Append([]string{event}); err != nil {
			return err
		}
		i++
	}
	return scanner.Err()
}
