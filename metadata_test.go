package bucketd

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/bucketd/internal/client"
)

// fixedClock pins timestamps for deterministic bucket metadata.
type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testService struct {
	metadataPath string
	master       *Master
	addr         string
}

func startTestMaster(t *testing.T, metadataPath string) *testService {
	t.Helper()

	master, err := OpenMaster(metadataPath,
		WithLogger(NewNoopLogger()),
		WithClock(fixedClock{t: testEpoch}))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go master.Serve(ln)
	t.Cleanup(func() { master.Close() })

	return &testService{
		metadataPath: metadataPath,
		master:       master,
		addr:         ln.Addr().String(),
	}
}

func (s *testService) dial(t *testing.T) Metadata {
	t.Helper()
	md, err := Dial(s.metadataPath,
		WithAddr(s.addr),
		WithLogger(NewNoopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { md.Close() })
	return md
}

func startService(t *testing.T) (Metadata, *testService) {
	t.Helper()
	svc := startTestMaster(t, t.TempDir())
	return svc.dial(t), svc
}

func TestBucketLifecycle(t *testing.T) {
	md, _ := startService(t)
	attrs := []byte(`{"owner":"alice"}`)

	require.NoError(t, md.CreateBucket("alpha", attrs))

	got, err := md.GetBucketAttributes("alpha")
	require.NoError(t, err)
	assert.Equal(t, attrs, got)

	require.NoError(t, md.DeleteBucket("alpha"))

	_, err = md.GetBucketAttributes("alpha")
	require.ErrorIs(t, err, ErrNoSuchBucket)
}

func TestCreateBucketDuplicate(t *testing.T) {
	md, _ := startService(t)

	require.NoError(t, md.CreateBucket("b1", []byte("{}")))
	err := md.CreateBucket("b1", []byte("{}"))
	require.ErrorIs(t, err, ErrBucketAlreadyExists)
}

func TestDeleteBucketIdempotent(t *testing.T) {
	md, _ := startService(t)

	require.NoError(t, md.CreateBucket("b1", []byte("{}")))
	require.NoError(t, md.DeleteBucket("b1"))
	require.NoError(t, md.DeleteBucket("b1"))
}

func TestPutBucketAttributes(t *testing.T) {
	md, _ := startService(t)

	require.NoError(t, md.CreateBucket("b1", []byte(`{"v":1}`)))
	require.NoError(t, md.PutBucketAttributes("b1", []byte(`{"v":2}`)))

	got, err := md.GetBucketAttributes("b1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got)
}

func TestObjectRoundTrip(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("b1", []byte("{}")))

	value := []byte(`{"x":1}`)
	require.NoError(t, md.PutObject("b1", "k", value))

	got, err := md.GetObject("b1", "k")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	require.NoError(t, md.DeleteObject("b1", "k"))

	_, err = md.GetObject("b1", "k")
	require.ErrorIs(t, err, ErrNoSuchObject)
}

func TestObjectInMissingBucket(t *testing.T) {
	md, _ := startService(t)

	err := md.PutObject("ghost", "k", []byte("{}"))
	require.ErrorIs(t, err, ErrNoSuchBucket)

	_, err = md.GetObject("ghost", "k")
	require.ErrorIs(t, err, ErrNoSuchBucket)
}

func TestGetBucketAndObject(t *testing.T) {
	md, _ := startService(t)
	attrs := []byte(`{"owner":"bob"}`)
	require.NoError(t, md.CreateBucket("b1", attrs))
	require.NoError(t, md.PutObject("b1", "k", []byte(`{"x":1}`)))

	res, err := md.GetBucketAndObject("b1", "k")
	require.NoError(t, err)
	assert.Equal(t, attrs, res.Bucket)
	assert.Equal(t, []byte(`{"x":1}`), res.Object)
}

func TestGetBucketAndObjectMissingObject(t *testing.T) {
	md, _ := startService(t)
	attrs := []byte(`{"owner":"bob"}`)
	require.NoError(t, md.CreateBucket("b1", attrs))

	// A missing object is not an error.
	res, err := md.GetBucketAndObject("b1", "missing")
	require.NoError(t, err)
	assert.Equal(t, attrs, res.Bucket)
	assert.Nil(t, res.Object)
}

func TestGetBucketAndObjectMissingBucket(t *testing.T) {
	md, _ := startService(t)

	_, err := md.GetBucketAndObject("ghost", "k")
	require.ErrorIs(t, err, ErrNoSuchBucket)
}

func TestListObjectsPrefix(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("x", []byte("{}")))

	for _, k := range []string{"a/1", "a/2", "b/1"} {
		require.NoError(t, md.PutObject("x", k, []byte(`{"k":"`+k+`"}`)))
	}

	res, err := md.ListObjects("x", ListingParams{Prefix: "a/", MaxKeys: 10})
	require.NoError(t, err)

	var keys []string
	for _, e := range res.Contents {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"a/1", "a/2"}, keys)
	assert.False(t, res.IsTruncated)
}

func TestListObjectsDelimiterAndMarker(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("x", []byte("{}")))

	for _, k := range []string{"a/1", "a/2", "b/1", "top"} {
		require.NoError(t, md.PutObject("x", k, []byte("{}")))
	}

	res, err := md.ListObjects("x", ListingParams{Delimiter: "/", MaxKeys: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/", "b/"}, res.CommonPrefixes)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "top", res.Contents[0].Key)

	res, err = md.ListObjects("x", ListingParams{Marker: "a/2", MaxKeys: -1})
	require.NoError(t, err)
	require.Len(t, res.Contents, 2)
	assert.Equal(t, "b/1", res.Contents[0].Key)
	assert.Equal(t, "top", res.Contents[1].Key)
}

func TestListObjectsEmptyPrefixListsAll(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("x", []byte("{}")))
	for _, k := range []string{"a", "b"} {
		require.NoError(t, md.PutObject("x", k, []byte("{}")))
	}

	res, err := md.ListObjects("x", ListingParams{MaxKeys: -1})
	require.NoError(t, err)
	assert.Len(t, res.Contents, 2)
}

func TestListObjectsMaxKeysZero(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("x", []byte("{}")))
	require.NoError(t, md.PutObject("x", "a", []byte("{}")))

	res, err := md.ListObjects("x", ListingParams{MaxKeys: 0})
	require.NoError(t, err)
	assert.Empty(t, res.Contents)
	assert.False(t, res.IsTruncated)
}

func TestListObjectsTruncation(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("x", []byte("{}")))
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, md.PutObject("x", k, []byte("{}")))
	}

	res, err := md.ListObjects("x", ListingParams{MaxKeys: 2})
	require.NoError(t, err)
	require.Len(t, res.Contents, 2)
	assert.True(t, res.IsTruncated)
	assert.Equal(t, "b", res.NextMarker)

	// The next page resumes where the marker left off.
	res, err = md.ListObjects("x", ListingParams{Marker: res.NextMarker, MaxKeys: 2})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "c", res.Contents[0].Key)
	assert.False(t, res.IsTruncated)
}

func mpuOverviewKey(objKey, uploadID string) string {
	return "overview..|.." + objKey + "..|.." + uploadID
}

func TestListMultipartUploads(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("x", []byte("{}")))

	uploads := map[string]string{
		mpuOverviewKey("a.txt", "id1"): `{"initiator":"alice"}`,
		mpuOverviewKey("a.txt", "id2"): `{"initiator":"bob"}`,
		mpuOverviewKey("b.txt", "id3"): `{"initiator":"carol"}`,
	}
	for k, v := range uploads {
		require.NoError(t, md.PutObject("x", k, []byte(v)))
	}
	// An ordinary object must not show up as an upload.
	require.NoError(t, md.PutObject("x", "plain", []byte("{}")))

	res, err := md.ListMultipartUploads("x", ListingParams{MaxKeys: -1})
	require.NoError(t, err)
	require.Len(t, res.Uploads, 3)
	assert.Equal(t, "a.txt", res.Uploads[0].Key)
	assert.Equal(t, "id1", res.Uploads[0].UploadID)
	assert.JSONEq(t, `{"initiator":"alice"}`, string(res.Uploads[0].Value))

	// Resume after (a.txt, id1): its remaining upload and b.txt follow.
	res, err = md.ListMultipartUploads("x", ListingParams{
		KeyMarker:      "a.txt",
		UploadIDMarker: "id1",
		MaxKeys:        -1,
	})
	require.NoError(t, err)
	require.Len(t, res.Uploads, 2)
	assert.Equal(t, "id2", res.Uploads[0].UploadID)
	assert.Equal(t, "b.txt", res.Uploads[1].Key)
}

func TestUsersBucketBootstrap(t *testing.T) {
	md, _ := startService(t)

	attrs, err := md.GetBucketAttributes(UsersBucket)
	require.NoError(t, err)

	var info BucketInfo
	require.NoError(t, json.Unmarshal(attrs, &info))
	assert.Equal(t, "admin", info.Owner)
	assert.Equal(t, testEpoch.Format(time.RFC3339), info.CreationDate)
}

func TestMasterRestartKeepsState(t *testing.T) {
	dir := t.TempDir()

	svc := startTestMaster(t, dir)
	md := svc.dial(t)
	require.NoError(t, md.CreateBucket("b1", []byte(`{"v":1}`)))
	require.NoError(t, md.PutObject("b1", "k", []byte(`{"x":1}`)))
	usersAttrs, err := md.GetBucketAttributes(UsersBucket)
	require.NoError(t, err)
	md.Close()
	svc.master.Close()

	// The registry rebuilds from the metastore; the users bucket keeps
	// its original creation record.
	svc2 := startTestMaster(t, dir)
	md2 := svc2.dial(t)

	got, err := md2.GetObject("b1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), got)

	again, err := md2.GetBucketAttributes(UsersBucket)
	require.NoError(t, err)
	assert.Equal(t, usersAttrs, again)
}

func TestCreateBucketVisibleToSecondWorker(t *testing.T) {
	md, svc := startService(t)
	require.NoError(t, md.CreateBucket("b1", []byte("{}")))
	require.NoError(t, md.PutObject("b1", "k", []byte(`{"x":1}`)))

	// A worker dialing after the create sees the published namespace.
	md2 := svc.dial(t)
	got, err := md2.GetObject("b1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), got)
}

func TestReconnectDeferredUnderLoad(t *testing.T) {
	md, _ := startService(t)
	impl := md.(*metadata)

	// Hold an in-flight handle so the session is not idle.
	h, err := impl.c.Namespace(UsersBucket)
	require.NoError(t, err)

	require.NoError(t, md.CreateBucket("newb", []byte("{}")))

	putDone := make(chan error, 1)
	go func() {
		// Addressing the new namespace hits the stale manifest and
		// defers the reconnect behind the held handle.
		putDone <- md.PutObject("newb", "k", []byte(`{"x":1}`))
	}()

	require.Eventually(t, func() bool {
		return impl.c.State() == client.Draining
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-putDone:
		t.Fatalf("put completed while the session was draining: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The held handle still works on the old session.
	_, err = h.Get([]byte("probe"))
	require.Error(t, err) // no such key, but the wire is alive

	h.Close()

	require.NoError(t, <-putDone)
	assert.Equal(t, int64(0), impl.c.Refcnt())

	got, err := md.GetObject("newb", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), got)
}

func TestRefcountQuiescent(t *testing.T) {
	md, _ := startService(t)
	impl := md.(*metadata)

	require.NoError(t, md.CreateBucket("b1", []byte("{}")))
	require.NoError(t, md.PutObject("b1", "k", []byte("{}")))
	_, err := md.GetObject("b1", "k")
	require.NoError(t, err)
	_, err = md.GetObject("b1", "missing")
	require.ErrorIs(t, err, ErrNoSuchObject)
	_, err = md.GetBucketAttributes("ghost")
	require.ErrorIs(t, err, ErrNoSuchBucket)
	_, err = md.ListObjects("b1", ListingParams{MaxKeys: -1})
	require.NoError(t, err)

	// Every path, success or error, released its handle.
	assert.Equal(t, int64(0), impl.c.Refcnt())
}

func TestRepeatedListingsAreStable(t *testing.T) {
	md, _ := startService(t)
	require.NoError(t, md.CreateBucket("b1", []byte("{}")))
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		require.NoError(t, md.PutObject("b1", k, []byte("{}")))
	}

	first, err := md.ListObjects("b1", ListingParams{Delimiter: "/", MaxKeys: -1})
	require.NoError(t, err)
	second, err := md.ListObjects("b1", ListingParams{Delimiter: "/", MaxKeys: -1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
