package storage

import (
	"bytes"
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// Artifacts provides access to the task image container.
type Artifacts struct {
	container *container.Client
}

// NewArtifacts creates an Artifacts instance for the given container.
func NewArtifacts(connStr, containerName string) (*Artifacts, error) {
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Artifacts{container: client.ServiceClient().NewContainerClient(containerName)}, nil
}

// Upload stores the binary under the given key. Without overwrite the call
// fails when an object already exists at the key; with it the object is
// replaced, so deterministic keys do not accumulate stale copies.
func (a *Artifacts) Upload(ctx context.Context, key string, data []byte, contentType string, overwrite bool) error {
	bb := a.container.NewBlockBlobClient(key)
	opts := &blockblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if !overwrite {
		noneMatch := azcore.ETagAny
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &noneMatch},
		}
	}
	_, err := bb.UploadBuffer(ctx, data, opts)
	return err
}

// PublicURL resolves the publicly reachable URL for a stored object.
func (a *Artifacts) PublicURL(key string) string {
	return a.container.NewBlobClient(key).URL()
}

// Remove deletes the objects at the given keys. The first failure is
// returned; callers treat removal as best-effort.
func (a *Artifacts) Remove(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if _, err := a.container.NewBlobClient(key).Delete(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// Download fetches an object's contents. Used for existence verification,
// not part of the lifecycle paths.
func (a *Artifacts) Download(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.container.NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
