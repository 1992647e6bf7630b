package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"
)

// ArchiveImpl implements domain.Archiver. Settlement reports are written
// once per market; snapshots are written as JSONL, one record per line.
//
// Archived data is never read back by the ledger; the receipt log remains
// the source of truth.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	audit    domain.AuditStore
	partSize int64
}

// NewArchiver creates an ArchiveImpl. reader and audit may be nil; without a
// reader settlement reports are overwritten instead of skipped.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, partSize int64) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		reader:   reader,
		audit:    audit,
		partSize: partSize,
	}
}

// ArchiveSettlement uploads the payout breakdown of a resolved market to
// settlements/market-<id>.json and returns the object path. A report that is
// already present is left untouched.
func (a *ArchiveImpl) ArchiveSettlement(ctx context.Context, s domain.Settlement, height uint64) (string, error) {
	path := settlementPath(s.MarketID)

	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive settlement %d: %w", s.MarketID, err)
		}
		if ok {
			return path, nil
		}
	}

	data, err := json.Marshal(domain.ArchivedSettlement{Settlement: s, Height: height})
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal settlement %d: %w", s.MarketID, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: archive settlement %d: %w", s.MarketID, err)
	}

	a.record(ctx, "archive.settlement", map[string]any{
		"market_id": s.MarketID,
		"height":    height,
		"path":      path,
	})
	return path, nil
}

// snapshotLine is one JSONL record of an archived snapshot.
type snapshotLine struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

type snapshotHeader struct {
	Height  uint64           `json:"height"`
	Admin   domain.Principal `json:"admin,omitempty"`
	Custody uint64           `json:"custody"`
	Markets int              `json:"markets"`
	Stakes  int              `json:"stakes"`
	Claims  int              `json:"claims"`
}

type balanceLine struct {
	Account domain.Principal `json:"account"`
	Amount  uint64           `json:"amount"`
}

// ArchiveSnapshot uploads a full ledger snapshot to
// snapshots/height-<h>.jsonl through a multipart upload.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	path := snapshotPath(snap.Height)

	data, err := marshalJSONL(snapshotLines(snap))
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %d: %w", snap.Height, err)
	}
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(data), a.partSize); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot %d: %w", snap.Height, err)
	}

	a.record(ctx, "archive.snapshot", map[string]any{
		"height":  snap.Height,
		"path":    path,
		"bytes":   len(data),
		"markets": len(snap.Markets),
	})
	return path, nil
}

// snapshotLines flattens snap into a header line followed by markets, stakes,
// claims and balances. Balances are sorted by account.
func snapshotLines(snap domain.Snapshot) []snapshotLine {
	lines := make([]snapshotLine, 0, 1+len(snap.Markets)+len(snap.Stakes)+len(snap.Claims)+len(snap.Balances))
	lines = append(lines, snapshotLine{Kind: "header", Data: snapshotHeader{
		Height:  snap.Height,
		Admin:   snap.Admin,
		Custody: snap.Custody,
		Markets: len(snap.Markets),
		Stakes:  len(snap.Stakes),
		Claims:  len(snap.Claims),
	}})
	for _, m := range snap.Markets {
		lines = append(lines, snapshotLine{Kind: "market", Data: m})
	}
	for _, s := range snap.Stakes {
		lines = append(lines, snapshotLine{Kind: "stake", Data: s})
	}
	for _, c := range snap.Claims {
		lines = append(lines, snapshotLine{Kind: "claim", Data: c})
	}

	accounts := make([]domain.Principal, 0, len(snap.Balances))
	for p := range snap.Balances {
		accounts = append(accounts, p)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	for _, p := range accounts {
		lines = append(lines, snapshotLine{Kind: "balance", Data: balanceLine{Account: p, Amount: snap.Balances[p]}})
	}
	return lines
}

func (a *ArchiveImpl) record(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	// The upload already succeeded; an audit failure must not fail it.
	_ = a.audit.Log(ctx, event, detail)
}

// Index lists the archived settlement reports and snapshots.
func (a *ArchiveImpl) Index(ctx context.Context) (domain.ArchiveIndex, error) {
	var idx domain.ArchiveIndex
	if a.reader == nil {
		return idx, errors.New("s3blob: index: archive has no reader")
	}
	var err error
	if idx.Settlements, err = a.listNumbered(ctx, settlementPrefix, ".json"); err != nil {
		return idx, fmt.Errorf("s3blob: index: %w", err)
	}
	if idx.Snapshots, err = a.listNumbered(ctx, snapshotPrefix, ".jsonl"); err != nil {
		return idx, fmt.Errorf("s3blob: index: %w", err)
	}
	return idx, nil
}

// listNumbered keeps the objects named <prefix><n><ext> and orders them by n.
func (a *ArchiveImpl) listNumbered(ctx context.Context, prefix, ext string) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n    uint64
		info domain.BlobInfo
	}
	var keep []numbered
	for _, info := range infos {
		n, ok := pathNumber(info.Path, prefix, ext)
		if ok {
			keep = append(keep, numbered{n, info})
		}
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i].n < keep[j].n })
	out := make([]domain.BlobInfo, len(keep))
	for i, k := range keep {
		out[i] = k.info
	}
	return out, nil
}

// Settlement reads back the report of one market. A market never archived
// yields domain.ErrNotFound.
func (a *ArchiveImpl) Settlement(ctx context.Context, marketID uint64) (domain.ArchivedSettlement, error) {
	var rep domain.ArchivedSettlement
	if a.reader == nil {
		return rep, errors.New("s3blob: settlement: archive has no reader")
	}
	body, err := a.reader.Get(ctx, settlementPath(marketID))
	if err != nil {
		return rep, fmt.Errorf("s3blob: settlement %d: %w", marketID, err)
	}
	defer body.Close()
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&rep); err != nil {
		return rep, fmt.Errorf("s3blob: decode settlement %d: %w", marketID, err)
	}
	return rep, nil
}

// Object layout:
//
//	settlements/market-42.json
//	snapshots/height-1200.jsonl
const (
	settlementPrefix = "settlements/market-"
	snapshotPrefix   = "snapshots/height-"
)

func settlementPath(marketID uint64) string {
	return settlementPrefix + strconv.FormatUint(marketID, 10) + ".json"
}

func snapshotPath(height uint64) string {
	return snapshotPrefix + strconv.FormatUint(height, 10) + ".jsonl"
}

func pathNumber(path, prefix, ext string) (uint64, bool) {
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ext)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return n, err == nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var (
	_ domain.Archiver       = (*ArchiveImpl)(nil)
	_ domain.ArchiveBrowser = (*ArchiveImpl)(nil)
)
