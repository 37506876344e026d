package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/jobrunner/zipcat/internal/domain"
	"github.com/jobrunner/zipcat/internal/ports/output"
)

// AzureStorage implements ObjectStorage for Azure Blob Storage. The bucket
// of an archive locator is the container name.
type AzureStorage struct {
	client    *azblob.Client
	container string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
}

// NewAzureStorage creates a new Azure Blob Storage adapter.
func NewAzureStorage(cfg AzureConfig) (*AzureStorage, error) {
	var client *azblob.Client

	if cfg.ConnectionString != "" {
		c, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		client = c
	} else {
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
		if err != nil {
			return nil, err
		}
	}

	return &AzureStorage{
		client:    client,
		container: cfg.Container,
	}, nil
}

// WithBucket returns a view on another container sharing the same client.
func (s *AzureStorage) WithBucket(bucket string) output.ObjectStorage {
	if bucket == "" || bucket == s.container {
		return s
	}
	return &AzureStorage{client: s.client, container: bucket}
}

// List returns all blobs under prefix.
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
		}

		for _, item := range page.Segment.BlobItems {
			objects = append(objects, blobToStorageObject(item))
		}
	}

	return objects, nil
}

// blobToStorageObject converts a listed blob to a StorageObject.
func blobToStorageObject(item *container.BlobItem) output.StorageObject {
	var obj output.StorageObject
	if item.Name != nil {
		obj.Key = *item.Name
	}
	if item.Properties == nil {
		return obj
	}
	if item.Properties.ContentLength != nil {
		obj.Size = *item.Properties.ContentLength
	}
	if item.Properties.LastModified != nil {
		obj.LastModified = *item.Properties.LastModified
	}
	if item.Properties.ETag != nil {
		obj.ETag = strings.Trim(string(*item.Properties.ETag), "\"")
	}
	return obj
}

// Stat returns the properties of a blob.
func (s *AzureStorage) Stat(ctx context.Context, key string) (output.StorageObject, error) {
	props, err := s.client.ServiceClient().
		NewContainerClient(s.container).
		NewBlobClient(key).
		GetProperties(ctx, nil)
	if err != nil {
		return output.StorageObject{}, s.wrap("stat", key, err)
	}

	obj := output.StorageObject{Key: key}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.LastModified = *props.LastModified
	}
	if props.ETag != nil {
		obj.ETag = strings.Trim(string(*props.ETag), "\"")
	}
	return obj, nil
}

// ReadRange returns length bytes of a blob starting at offset.
func (s *AzureStorage) ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: length},
	})
	if err != nil {
		return nil, s.wrap("read_range", key, err)
	}
	return resp.Body, nil
}

// GetReader returns a reader for the given blob.
func (s *AzureStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return resp.Body, nil
}

// Put uploads a block blob.
func (s *AzureStorage) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	_, err := s.client.UploadStream(ctx, s.container, key, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return s.wrap("put", key, err)
	}
	return nil
}

// Delete removes a blob.
func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteBlob(ctx, s.container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil
		}
		return s.wrap("delete", key, err)
	}
	return nil
}

// Exists checks if a blob exists in Azure.
func (s *AzureStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// URI returns az://container/key.
func (s *AzureStorage) URI(key string) string {
	return "az://" + s.container + "/" + key
}

// VSIPath returns /vsiaz/container/key.
func (s *AzureStorage) VSIPath(key string) string {
	return "/vsiaz/" + s.container + "/" + key
}

func (s *AzureStorage) wrap(op, key string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		err = fmt.Errorf("%s/%s: %w", s.container, key, domain.ErrNotFound)
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}
