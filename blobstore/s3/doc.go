// Package s3 stores barrels in Amazon S3.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "index/")
//	ix, err := barrel.Open(ctx, store)
//
// Barrel blobs are streamed through the multipart uploader and read back
// with ranged GETs. S3 has no rename, so Rename copies the object and
// deletes the source.
//
// ExpressStore targets S3 Express One Zone directory buckets and writes
// manifests with conditional puts. DDBCommitStore keeps the CURRENT pointer
// in a DynamoDB table so that two processes cannot publish conflicting
// manifests.
package s3
