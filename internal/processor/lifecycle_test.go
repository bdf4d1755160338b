package processor_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/edgecomet/eventpipe/internal/archive"
	"github.com/edgecomet/eventpipe/internal/common/configtypes"
	"github.com/edgecomet/eventpipe/internal/delivery"
	"github.com/edgecomet/eventpipe/internal/events"
	"github.com/edgecomet/eventpipe/internal/metrics"
	"github.com/edgecomet/eventpipe/internal/processor"
	"github.com/edgecomet/eventpipe/pkg/types"
)

type bulkRequest struct {
	auth      string
	payloadID string
	events    []map[string]any
}

// collectorServer stands in for the events service
type collectorServer struct {
	mu       sync.Mutex
	requests []bulkRequest
	statuses []int
}

func (c *collectorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var batch []map[string]any
	_ = json.Unmarshal(body, &batch)

	c.mu.Lock()
	c.requests = append(c.requests, bulkRequest{
		auth:      r.Header.Get("Authorization"),
		payloadID: r.Header.Get(delivery.PayloadIDHeader),
		events:    batch,
	})
	status := http.StatusAccepted
	if len(c.statuses) > 0 {
		status = c.statuses[0]
		c.statuses = c.statuses[1:]
	}
	c.mu.Unlock()

	w.WriteHeader(status)
}

func (c *collectorServer) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *collectorServer) deliveredKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for _, req := range c.requests {
		for _, ev := range req.events {
			if k, ok := ev["key"].(string); ok {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

var _ = Describe("Event processor", func() {
	var (
		collector   *collectorServer
		server      *httptest.Server
		proc        *processor.Processor
		logs        *observer.ObservedLogs
		recorder    *metrics.MetricsCollector
		fileArchive *archive.FileArchive
		archivePath string
	)

	start := func(statuses ...int) {
		collector.statuses = statuses

		core, observed := observer.New(zapcore.DebugLevel)
		logs = observed
		logger := zap.New(core)

		cfg := configtypes.EventsConfig{
			SendEvents:     true,
			Capacity:       100,
			FlushInterval:  types.Duration(50 * time.Millisecond),
			EventsBaseURI:  server.URL,
			ConnectTimeout: types.Duration(time.Second),
			ReadTimeout:    types.Duration(time.Second),
			UserAgentName:  "EventPipeGo",
			Archive: configtypes.ArchiveConfig{
				Enabled: true,
				Path:    archivePath,
			},
		}

		client, err := delivery.NewClient(delivery.OptionsFromConfig(cfg, "sdk-key-123"), logger)
		Expect(err).NotTo(HaveOccurred())

		fileArchive, err = archive.NewFileArchive(cfg.Archive, logger)
		Expect(err).NotTo(HaveOccurred())

		recorder = metrics.NewMetricsCollector("eventpipe_test", logger)

		proc, err = processor.New(processor.Options{
			Config:    cfg,
			Deliverer: client,
			Recorder:  recorder,
			Archiver:  fileArchive,
			Logger:    logger,
		})
		Expect(err).NotTo(HaveOccurred())
		proc.Start()
	}

	BeforeEach(func() {
		collector = &collectorServer{}
		server = httptest.NewServer(collector)
		archivePath = filepath.Join(GinkgoT().TempDir(), "dropped.ndjson")
	})

	AfterEach(func() {
		if proc != nil {
			proc.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(proc.Wait(ctx)).To(Succeed())
		}
		if fileArchive != nil {
			Expect(fileArchive.Close()).To(Succeed())
		}
		server.Close()
	})

	Context("with a healthy collector", func() {
		BeforeEach(func() { start() })

		It("posts every event in order with credentials", func() {
			for _, k := range []string{"a", "b", "c", "d"} {
				proc.AddEvent(events.NewEvent(events.KindCustom).Set("key", k))
			}

			Eventually(collector.deliveredKeys).WithTimeout(2 * time.Second).
				Should(Equal([]string{"a", "b", "c", "d"}))

			collector.mu.Lock()
			defer collector.mu.Unlock()
			for _, req := range collector.requests {
				Expect(req.auth).To(Equal("sdk-key-123"))
				Expect(req.payloadID).NotTo(BeEmpty())
				for _, ev := range req.events {
					Expect(ev).To(HaveKey(events.FieldCreationDate))
				}
			}
		})

		It("delivers immediately when a flush is requested", func() {
			proc.AddEvent(events.NewEvent(events.KindIdentify).Set("key", "user-1"))
			proc.Flush()

			Eventually(collector.requestCount).WithTimeout(time.Second).Should(BeNumerically(">=", 1))
		})

		It("stops promptly and waits for the worker", func() {
			proc.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			Expect(proc.Wait(ctx)).To(Succeed())
			Expect(proc.WorkerState()).To(Equal(processor.WorkerStopped))
			Expect(logs.FilterMessage("Event processor stopped").Len()).To(Equal(1))
		})
	})

	Context("when the collector rejects the SDK key", func() {
		BeforeEach(func() { start(http.StatusUnauthorized) })

		It("stops the processor and archives the dropped batch", func() {
			proc.AddEvent(events.NewEvent(events.KindCustom).Set("key", "a"))

			Eventually(proc.IsAlive).WithTimeout(2 * time.Second).Should(BeFalse())
			Expect(logs.FilterMessage("Received 401 error, no further events will be posted since SDK key is invalid").Len()).To(Equal(1))

			proc.AddEvent(events.NewEvent(events.KindCustom).Set("key", "b"))
			Expect(proc.QueueDepth()).To(BeZero())
			Consistently(collector.requestCount).WithTimeout(200 * time.Millisecond).Should(Equal(1))

			records := readArchive(archivePath)
			Expect(records).To(HaveLen(1))
			Expect(records[0].Reason).To(Equal(processor.DropUnauthorized))
			Expect(records[0].StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Context("when the collector fails transiently", func() {
		BeforeEach(func() { start(http.StatusServiceUnavailable) })

		It("drops the failed batch and keeps delivering", func() {
			proc.AddEvent(events.NewEvent(events.KindCustom).Set("key", "lost"))
			Eventually(collector.requestCount).WithTimeout(2 * time.Second).Should(Equal(1))

			proc.AddEvent(events.NewEvent(events.KindCustom).Set("key", "kept"))
			Eventually(collector.deliveredKeys).WithTimeout(2 * time.Second).
				Should(ContainElement("kept"))

			Expect(proc.IsAlive()).To(BeTrue())
			Expect(logs.FilterMessage("Unexpected status code while processing events").Len()).To(BeNumerically(">=", 1))

			records := readArchive(archivePath)
			Expect(records).To(HaveLen(1))
			Expect(records[0].Reason).To(Equal(processor.DropDeliveryFailed))
		})
	})
})

func readArchive(path string) []archive.Record {
	f, err := os.Open(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	var records []archive.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec archive.Record
		Expect(json.Unmarshal(scanner.Bytes(), &rec)).To(Succeed())
		records = append(records, rec)
	}
	Expect(scanner.Err()).NotTo(HaveOccurred())
	return records
}
