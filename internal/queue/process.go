package queue

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rabbitmq/amqp091-go"

	"github.com/civigraph/atlas/internal/storage"
	"github.com/civigraph/atlas/pkg/common"
	"github.com/civigraph/atlas/pkg/graph"
	"github.com/civigraph/atlas/pkg/leaselock"
	"github.com/civigraph/atlas/pkg/logger"
)

// IngestBatchMsg asks the worker to ingest an uploaded import batch.
type IngestBatchMsg struct {
	Message       string `json:"message"`
	ImportID      string `json:"import_id"`
	Key           string `json:"key"`
	CorrelationID string `json:"correlation_id"`
	Reconcile     bool   `json:"reconcile"`
}

// ReconcileMsg asks the worker to run duplicate reconciliation. EntityType
// narrows the pass to one type; empty means all types.
type ReconcileMsg struct {
	Message       string `json:"message"`
	EntityType    string `json:"entity_type,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// ParseEventRows decodes an import batch into event envelopes. The header
// must carry actor, action and date_received columns; target, locations
// (pipe-separated) and sentence are optional. Rows that fail to parse are
// reported but do not fail the batch.
func ParseEventRows(data []byte) ([]graph.IncomingEvent, []error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, []error{fmt.Errorf("failed to read header: %w", err)}
	}
	index := make(map[string]int, len(header))
	for i, column := range header {
		index[strings.ToLower(strings.TrimSpace(column))] = i
	}
	for _, column := range []string{"actor", "action", "date_received"} {
		if _, ok := index[column]; !ok {
			return nil, []error{fmt.Errorf("missing required column %q", column)}
		}
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var (
		events []graph.IncomingEvent
		errs   []error
	)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		received, err := parseDate(field(record, "date_received"))
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}

		event := graph.IncomingEvent{
			Actor:        field(record, "actor"),
			Action:       field(record, "action"),
			Target:       field(record, "target"),
			Sentence:     field(record, "sentence"),
			DateReceived: received,
		}
		for _, location := range strings.Split(field(record, "locations"), "|") {
			if location = strings.TrimSpace(location); location != "" {
				event.Locations = append(event.Locations, location)
			}
		}

		events = append(events, event)
	}
	return events, errs
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("date_received is empty")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// ProcessIngestMessage fetches an import batch from S3 and ingests it row by
// row. Invalid rows are skipped; any other failure fails the message so it
// is retried as a whole, which is safe because duplicate detection makes
// re-ingestion idempotent.
func ProcessIngestMessage(
	ctx context.Context,
	client *s3.Client,
	engine *graph.Engine,
	ch *amqp091.Channel,
	body string,
) error {
	var msg IngestBatchMsg
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal ingest message: %w", err)
	}
	if msg.Key == "" {
		return errors.New("ingest message has no object key")
	}

	data, err := storage.GetFile(ctx, client, msg.Key)
	if err != nil {
		return err
	}

	events, rowErrs := ParseEventRows(data)
	for _, rowErr := range rowErrs {
		logger.Warn("[Ingest] Skipping row", "import", msg.ImportID, "err", rowErr)
	}
	if len(events) == 0 && len(rowErrs) > 0 {
		return fmt.Errorf("import %s produced no valid rows", msg.ImportID)
	}

	ingested, suppressed, skipped := 0, 0, 0
	for _, in := range events {
		event, err := engine.Ingest(ctx, in)
		if err != nil {
			if errors.Is(err, graph.ErrInvalidEvent) {
				logger.Warn("[Ingest] Skipping invalid event", "import", msg.ImportID, "err", err)
				skipped++
				continue
			}
			return fmt.Errorf("import %s failed: %w", msg.ImportID, err)
		}
		if event == nil {
			suppressed++
			continue
		}
		ingested++
	}

	logger.Info("[Ingest] Batch processed",
		"import", msg.ImportID,
		"ingested", ingested,
		"suppressed", suppressed,
		"skipped", skipped)

	if msg.Reconcile {
		reconcile := ReconcileMsg{
			Message:       "Reconcile after import",
			CorrelationID: msg.CorrelationID,
		}
		reconcileBytes, err := json.Marshal(reconcile)
		if err != nil {
			return err
		}
		if err := PublishFIFO(ch, ReconcileQueue, reconcileBytes); err != nil {
			return fmt.Errorf("failed to enqueue reconciliation: %w", err)
		}
	}

	return nil
}

// ProcessReconcileMessage runs duplicate reconciliation under the per-type
// merge locks, one entity type at a time.
func ProcessReconcileMessage(
	ctx context.Context,
	engine *graph.Engine,
	locker *leaselock.Client,
	body string,
) error {
	var msg ReconcileMsg
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("failed to unmarshal reconcile message: %w", err)
	}

	types := common.EntityTypes()
	if msg.EntityType != "" {
		types = []common.EntityType{common.ParseEntityType(msg.EntityType)}
	}

	for _, entityType := range types {
		run := func(ctx context.Context) error {
			report, err := engine.ReconcileType(ctx, entityType)
			if err != nil {
				return err
			}
			if report.Merges > 0 {
				logger.Info("[Reconcile] Merged duplicates",
					"type", entityType,
					"merges", report.Merges,
					"removed", report.RemovedEntities,
					"rewritten_events", report.RewrittenEvents)
			}
			return nil
		}

		if locker == nil {
			if err := run(ctx); err != nil {
				return err
			}
			continue
		}

		err := locker.WithLease(ctx, leaselock.MergeKey(entityType), leaselock.Options{
			TTL:  2 * time.Minute,
			Wait: true,
		}, run)
		if err != nil {
			return fmt.Errorf("reconcile %s failed: %w", entityType, err)
		}
	}

	return nil
}
