package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/posync/internal/platform/db"
	"github.com/odyssey-erp/posync/internal/posync"
	"github.com/odyssey-erp/posync/internal/shared"
)

// Sealer encrypts secrets before they are stored.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
}

// EndpointWriter persists the endpoint row together with its audit entry.
type EndpointWriter interface {
	SaveEndpoint(ctx context.Context, ep posync.SealedEndpoint, actor string) error
}

// PGEndpointWriter writes the endpoint row and its audit record in one transaction.
type PGEndpointWriter struct {
	Pool db.TxBeginner
}

// SaveEndpoint implements EndpointWriter.
func (w PGEndpointWriter) SaveEndpoint(ctx context.Context, ep posync.SealedEndpoint, actor string) error {
	return db.WithTx(ctx, w.Pool, func(tx pgx.Tx) error {
		if err := new(posync.Repository).WithTx(tx).SaveEndpoint(ctx, ep); err != nil {
			return fmt.Errorf("save endpoint: %w", err)
		}
		return shared.NewAuditLogger(tx).Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "endpoint.update",
			Entity:   "remote_endpoint_config",
			EntityID: "1",
			Meta:     map[string]any{"base_url": ep.BaseURL, "api_key": ep.APIKey},
		})
	})
}

// EndpointOptions defines the flags for set-endpoint.
type EndpointOptions struct {
	BaseURL   string `validate:"required,url"`
	APIKey    string `validate:"required"`
	APISecret string `validate:"required"`
	Actor     string
	Stdout    io.Writer
	Stderr    io.Writer
}

// EndpointCLI manages the remote endpoint configuration.
type EndpointCLI struct {
	writer   EndpointWriter
	sealer   Sealer
	validate *validator.Validate
}

// NewEndpointCLI constructs the helper.
func NewEndpointCLI(writer EndpointWriter, sealer Sealer) *EndpointCLI {
	return &EndpointCLI{writer: writer, sealer: sealer, validate: validator.New()}
}

// SetCommand seals the secret and stores the endpoint. Returns the exit code.
func (c *EndpointCLI) SetCommand(ctx context.Context, opts EndpointOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	opts.APIKey = strings.TrimSpace(opts.APIKey)
	if err := c.validate.Struct(opts); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "set-endpoint: %v\n", err)
		return 1
	}
	sealed, err := c.sealer.Seal([]byte(opts.APISecret))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "set-endpoint: seal secret: %v\n", err)
		return 1
	}
	actor := strings.TrimSpace(opts.Actor)
	if actor == "" {
		actor = "posyncctl"
	}
	ep := posync.SealedEndpoint{BaseURL: opts.BaseURL, APIKey: opts.APIKey, SealedSecret: sealed}
	if err := c.writer.SaveEndpoint(ctx, ep, actor); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "set-endpoint: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "endpoint set to %s (key %s)\n", ep.BaseURL, ep.APIKey)
	return 0
}

// SealCommand prints the sealed form of plain as hex, for manual inserts.
func (c *EndpointCLI) SealCommand(plain string, stdout, stderr io.Writer) int {
	if plain == "" {
		_, _ = fmt.Fprintln(stderr, "seal-secret: secret required")
		return 1
	}
	sealed, err := c.sealer.Seal([]byte(plain))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seal-secret: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, hex.EncodeToString(sealed))
	return 0
}
