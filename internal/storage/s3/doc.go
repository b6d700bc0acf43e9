/*
Package s3 reads image objects from Amazon S3 and S3-compatible stores.

Reader implements types.ObjectReader over the AWS SDK v2 client. The image loader uses it for
s3://bucket/key locations:

	reader, err := s3.NewReader(ctx, cfg.Image.S3, logger)
	if err != nil {
		return err
	}
	data, err := reader.GetObject(ctx, "imagery", "goes/east/band13.png")

Credentials come from the default AWS chain unless access keys are set in the configuration.
Endpoint and ForcePathStyle point the client at MinIO or another compatible store.

SDK errors are translated into fieldcache error codes: a missing key or bucket becomes
OBJECT_NOT_FOUND, AccessDenied becomes ACCESS_DENIED, an expired context becomes
CONNECTION_TIMEOUT and everything else NETWORK_ERROR. The loader retries only the last two.
*/
package s3
