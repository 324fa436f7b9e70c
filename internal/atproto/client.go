package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RecordClient performs create/update/delete against a user's repository on
// their PDS. Implementations must be safe for concurrent use.
type RecordClient interface {
	CreateRecord(ctx context.Context, in CreateRecordInput) (*RecordRef, error)
	PutRecord(ctx context.Context, in PutRecordInput) (*RecordRef, error)
	DeleteRecord(ctx context.Context, in DeleteRecordInput) error
}

// CreateRecordInput mirrors com.atproto.repo.createRecord. RKey is optional;
// when empty the PDS assigns one. SwapCommit optionally asserts the current
// repo commit (compare-and-swap).
type CreateRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey,omitempty"`
	Record     any    `json:"record"`
	SwapCommit string `json:"swapCommit,omitempty"`
}

// PutRecordInput mirrors com.atproto.repo.putRecord. SwapRecord optionally
// asserts the CID of the record being replaced.
type PutRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	Record     any    `json:"record"`
	SwapCommit string `json:"swapCommit,omitempty"`
	SwapRecord string `json:"swapRecord,omitempty"`
}

// DeleteRecordInput mirrors com.atproto.repo.deleteRecord.
type DeleteRecordInput struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	SwapCommit string `json:"swapCommit,omitempty"`
	SwapRecord string `json:"swapRecord,omitempty"`
}

// RecordRef identifies a record version in the authoritative store.
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// TokenSource resolves an access token for the acting account, typically by
// reading the stored OAuth session for that DID.
type TokenSource interface {
	AccessToken(ctx context.Context, did string) (string, error)
}

// XRPCError is a structured error response from a PDS.
type XRPCError struct {
	StatusCode int
	Name       string `json:"error"`
	Message    string `json:"message"`
}

func (e *XRPCError) Error() string {
	return fmt.Sprintf("xrpc error %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// XRPCClient is an HTTP RecordClient speaking the com.atproto.repo.* XRPC
// procedures against a single PDS base URL.
type XRPCClient struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewXRPCClient(baseURL string, tokens TokenSource, httpClient *http.Client) *XRPCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &XRPCClient{baseURL: baseURL, tokens: tokens, http: httpClient}
}

func (c *XRPCClient) CreateRecord(ctx context.Context, in CreateRecordInput) (*RecordRef, error) {
	var out RecordRef
	if err := c.procedure(ctx, in.Repo, "com.atproto.repo.createRecord", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *XRPCClient) PutRecord(ctx context.Context, in PutRecordInput) (*RecordRef, error) {
	var out RecordRef
	if err := c.procedure(ctx, in.Repo, "com.atproto.repo.putRecord", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *XRPCClient) DeleteRecord(ctx context.Context, in DeleteRecordInput) error {
	return c.procedure(ctx, in.Repo, "com.atproto.repo.deleteRecord", in, nil)
}

func (c *XRPCClient) procedure(ctx context.Context, did, nsid string, in, out any) error {
	token, err := c.tokens.AccessToken(ctx, did)
	if err != nil {
		return fmt.Errorf("resolving access token: %w", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s input: %w", nsid, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/xrpc/"+nsid, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", nsid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		xerr := &XRPCError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err := json.Unmarshal(data, xerr); err != nil || xerr.Name == "" {
			xerr.Name = "UnknownError"
			xerr.Message = string(data)
		}
		return xerr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s output: %w", nsid, err)
	}
	return nil
}
