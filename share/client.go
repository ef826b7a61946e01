package share

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memoshare/models"
)

const (
	// DefaultPingTimeout bounds the reachability probe.
	DefaultPingTimeout = 3 * time.Second
	// DefaultPrepareTimeout bounds the prepare call. It must outlast the
	// receiver's 60s approval window.
	DefaultPrepareTimeout = 75 * time.Second
	// DefaultTransferTimeout bounds the whole multipart upload.
	DefaultTransferTimeout = 10 * time.Minute

	uploadChunkSize = 64 * 1024
	maxReasonBytes  = 4 * 1024
)

// StatusError is a non-2xx response from the peer, carrying its plain-text
// reason. The reason is advisory and never parsed by control flow.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("peer responded %d: %s", e.StatusCode, e.Reason)
}

// EncryptedAttachment is one independently encrypted attachment queued for
// upload.
type EncryptedAttachment struct {
	Name       string
	Ciphertext []byte
}

// ProgressFunc observes upload progress in ciphertext bytes.
type ProgressFunc func(sent, total int64)

// Client performs the HTTP calls of the share protocol against one peer.
type Client struct {
	pingClient     *http.Client
	prepareClient  *http.Client
	transferClient *http.Client
}

// ClientOptions overrides the per-phase HTTP timeouts.
type ClientOptions struct {
	PingTimeout     time.Duration
	PrepareTimeout  time.Duration
	TransferTimeout time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	out := o
	if out.PingTimeout <= 0 {
		out.PingTimeout = DefaultPingTimeout
	}
	if out.PrepareTimeout <= 0 {
		out.PrepareTimeout = DefaultPrepareTimeout
	}
	if out.TransferTimeout <= 0 {
		out.TransferTimeout = DefaultTransferTimeout
	}
	return out
}

// NewClient creates a share protocol client.
func NewClient(options ClientOptions) *Client {
	opts := options.withDefaults()
	return &Client{
		pingClient:     &http.Client{Timeout: opts.PingTimeout},
		prepareClient:  &http.Client{Timeout: opts.PrepareTimeout},
		transferClient: &http.Client{Timeout: opts.TransferTimeout},
	}
}

// Ping probes the peer's liveness endpoint with a short timeout so an
// unreachable peer fails fast instead of waiting out the approval window.
func (c *Client) Ping(ctx context.Context, device models.Device) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deviceURL(device, PingPath), nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}

	resp, err := c.pingClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping %q: %w", device.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping %q: unexpected status %d", device.Host, resp.StatusCode)
	}
	return nil
}

// Prepare posts the prepare request and returns the peer's decision.
func (c *Client) Prepare(ctx context.Context, device models.Device, request *PrepareRequest) (*PrepareResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode prepare request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deviceURL(device, PreparePath), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.prepareClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prepare with %q: %w", device.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var out PrepareResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode prepare response: %w", err)
	}
	return &out, nil
}

// Transfer streams the metadata part plus one file part per attachment and
// reports success strictly from the response body.
func (c *Client) Transfer(ctx context.Context, device models.Device, metadata *TransferMetadata, attachments []EncryptedAttachment, progress ProgressFunc) (*TransferResponse, error) {
	var total int64
	for _, attachment := range attachments {
		total += int64(len(attachment.Ciphertext))
	}

	pipeReader, pipeWriter := io.Pipe()
	writer := multipart.NewWriter(pipeWriter)
	go func() {
		err := writeTransferBody(writer, metadata, attachments, total, progress)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pipeWriter.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, deviceURL(device, TransferPath), pipeReader)
	if err != nil {
		return nil, fmt.Errorf("build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.transferClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer with %q: %w", device.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var out TransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transfer response: %w", err)
	}
	return &out, nil
}

func writeTransferBody(writer *multipart.Writer, metadata *TransferMetadata, attachments []EncryptedAttachment, total int64, progress ProgressFunc) error {
	metaField, err := writer.CreateFormField(metadataPartName)
	if err != nil {
		return fmt.Errorf("create metadata part: %w", err)
	}
	if err := json.NewEncoder(metaField).Encode(metadata); err != nil {
		return fmt.Errorf("encode metadata part: %w", err)
	}

	var sent int64
	for _, attachment := range attachments {
		filePart, err := writer.CreateFormFile("file", attachment.Name)
		if err != nil {
			return fmt.Errorf("create file part %q: %w", attachment.Name, err)
		}

		data := attachment.Ciphertext
		for off := 0; off < len(data); off += uploadChunkSize {
			end := off + uploadChunkSize
			if end > len(data) {
				end = len(data)
			}
			n, err := filePart.Write(data[off:end])
			sent += int64(n)
			if err != nil {
				return fmt.Errorf("write file part %q: %w", attachment.Name, err)
			}
			if progress != nil {
				progress(sent, total)
			}
		}
	}

	return nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReasonBytes))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Reason:     strings.TrimSpace(string(raw)),
	}
}

func deviceURL(device models.Device, path string) string {
	return "http://" + net.JoinHostPort(device.Host, strconv.Itoa(device.Port)) + path
}
