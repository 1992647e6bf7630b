package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

type fakeBlobs struct {
	objects map[string][]byte
	types   map[string]string
	parts   map[string]int64
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects: map[string][]byte{},
		types:   map[string]string{},
		parts:   map[string]int64{},
	}
}

func (f *fakeBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	f.types[path] = contentType
	return nil
}

func (f *fakeBlobs) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	f.parts[path] = partSize
	return nil
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, b := range f.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func TestArchiveSettlement(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, nil, 0)

	s := domain.Settlement{MarketID: 7, Outcome: true, WinningTotal: 1000, LosingTotal: 500, Pool: 1500, Fee: 15, Distributable: 1485}
	path, err := a.ArchiveSettlement(context.Background(), s, 120)
	require.NoError(t, err)
	assert.Equal(t, "settlements/market-7.json", path)
	assert.Equal(t, contentTypeJSON, blobs.types[path])

	var got map[string]any
	require.NoError(t, json.Unmarshal(blobs.objects[path], &got))
	assert.EqualValues(t, 7, got["market_id"])
	assert.EqualValues(t, 1485, got["distributable"])
	assert.EqualValues(t, 120, got["height"])

	// A second archive of the same market leaves the first report in place.
	_, err = a.ArchiveSettlement(context.Background(), domain.Settlement{MarketID: 7}, 999)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(blobs.objects[path], &got))
	assert.EqualValues(t, 120, got["height"])
}

func TestArchiveIndexAndReadBack(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, nil, 0)

	for _, id := range []uint64{10, 2} {
		_, err := a.ArchiveSettlement(ctx, domain.Settlement{MarketID: id, Pool: id * 100}, id+1)
		require.NoError(t, err)
	}
	_, err := a.ArchiveSnapshot(ctx, domain.Snapshot{Height: 9})
	require.NoError(t, err)
	blobs.objects["settlements/README.txt"] = []byte("ignored")

	idx, err := a.Index(ctx)
	require.NoError(t, err)
	require.Len(t, idx.Settlements, 2)
	assert.Equal(t, "settlements/market-2.json", idx.Settlements[0].Path)
	assert.Equal(t, "settlements/market-10.json", idx.Settlements[1].Path)
	require.Len(t, idx.Snapshots, 1)
	assert.Equal(t, "snapshots/height-9.jsonl", idx.Snapshots[0].Path)

	rep, err := a.Settlement(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), rep.Pool)
	assert.Equal(t, uint64(11), rep.Height)

	_, err = a.Settlement(ctx, 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = NewArchiver(blobs, nil, nil, 0).Index(ctx)
	assert.Error(t, err)
}

func TestArchiveSettlementPropagatesWriteError(t *testing.T) {
	blobs := newFakeBlobs()
	blobs.putErr = errors.New("bucket unavailable")
	a := NewArchiver(blobs, nil, nil, 0)

	_, err := a.ArchiveSettlement(context.Background(), domain.Settlement{MarketID: 1}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestArchiveSnapshotJSONL(t *testing.T) {
	blobs := newFakeBlobs()
	a := NewArchiver(blobs, blobs, nil, 8<<20)

	snap := domain.Snapshot{
		Height:  50,
		Admin:   "admin",
		Custody: 300,
		Markets: []domain.Market{{ID: 1, Question: "rain?", Deadline: 100, TotalYes: 200, TotalNo: 100}},
		Stakes: []domain.Stake{
			{MarketID: 1, Account: "alice", Side: domain.SideYes, Amount: 200},
			{MarketID: 1, Account: "bob", Side: domain.SideNo, Amount: 100},
		},
		Balances: map[domain.Principal]uint64{"bob": 900, "alice": 800},
	}
	path, err := a.ArchiveSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "snapshots/height-50.jsonl", path)
	assert.EqualValues(t, 8<<20, blobs.parts[path])

	var kinds []string
	var accounts []string
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects[path]))
	for sc.Scan() {
		var line struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		kinds = append(kinds, line.Kind)
		if line.Kind == "balance" {
			var b balanceLine
			require.NoError(t, json.Unmarshal(line.Data, &b))
			accounts = append(accounts, string(b.Account))
		}
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"header", "market", "stake", "stake", "balance", "balance"}, kinds)
	assert.Equal(t, []string{"alice", "bob"}, accounts)
}

func TestMarshalJSONLDoesNotEscapeHTML(t *testing.T) {
	data, err := marshalJSONL([]map[string]string{{"q": "a<b"}, {"q": "c&d"}})
	require.NoError(t, err)
	assert.Equal(t, "{\"q\":\"a<b\"}\n{\"q\":\"c&d\"}\n", string(data))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}

func TestClientKeyPrefix(t *testing.T) {
	c := &Client{bucket: "b", prefix: "polystakes/dev/"}
	assert.Equal(t, "polystakes/dev/snapshots/height-1.jsonl", c.Key(snapshotPath(1)))
}

func TestNormalisePrefix(t *testing.T) {
	assert.Equal(t, "", normalisePrefix(""))
	assert.Equal(t, "polystakes/dev/", normalisePrefix("/polystakes/dev"))
	assert.Equal(t, "a/", normalisePrefix("a/"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("get: %w", &smithy.GenericAPIError{Code: "NoSuchKey"})))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("dial tcp: timeout")))
	assert.ErrorIs(t, notFoundAs(&smithy.GenericAPIError{Code: "NoSuchKey"}), domain.ErrNotFound)
}
