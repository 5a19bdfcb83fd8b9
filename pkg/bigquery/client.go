// Package bigquery is the analytics sink for credit usage rows.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errDatasetRequired   = errors.New("bigquery dataset is required")
	errTableRequired     = errors.New("bigquery usage table is required")
	errClosed            = errors.New("bigquery client not initialized")
)

// Client writes to one dataset. The usage table must exist before the
// analytics worker starts; schema changes go through ops, not this client.
type Client struct {
	bq         *bigquery.Client
	dataset    *bigquery.Dataset
	usageTable string
}

type target struct {
	project, dataset, table string
}

func resolveTarget(gcp config.GCPConfig, cfg config.BigQueryConfig) (target, error) {
	t := target{
		project: strings.TrimSpace(gcp.ProjectID),
		dataset: strings.TrimSpace(cfg.Dataset),
		table:   strings.TrimSpace(cfg.UsageTable),
	}
	switch {
	case t.project == "":
		return t, errProjectIDRequired
	case t.dataset == "":
		return t, errDatasetRequired
	case t.table == "":
		return t, errTableRequired
	}
	return t, nil
}

// NewClient connects and checks that the dataset and usage table are reachable.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	t, err := resolveTarget(gcp, cfg)
	if err != nil {
		return nil, err
	}
	bq, err := bigquery.NewClient(ctx, t.project, credentials(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{bq: bq, dataset: bq.Dataset(t.dataset), usageTable: t.table}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"bq_project": t.project,
			"bq_dataset": t.dataset,
			"bq_table":   t.table,
		}), "bigquery usage sink ready")
	}
	return c, nil
}

// credentials prefers inline JSON over a key file; neither means ADC.
func credentials(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Ping checks the dataset and usage table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClosed
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describeMissing("dataset", c.dataset.DatasetID, err)
	}
	if _, err := c.dataset.Table(c.usageTable).Metadata(ctx); err != nil {
		return describeMissing("table", c.usageTable, err)
	}
	return nil
}

func (c *Client) UsageTable() string {
	if c == nil {
		return ""
	}
	return c.usageTable
}

// InsertRows streams rows into table, or the usage table when table is empty.
// A partial failure comes back as bigquery.PutMultiError.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errClosed
	}
	if len(rows) == 0 {
		return nil
	}
	if table = strings.TrimSpace(table); table == "" {
		table = c.usageTable
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func describeMissing(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return fmt.Errorf("%s %q does not exist", kind, name)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
