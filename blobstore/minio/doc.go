// Package minio stores barrels in a MinIO or other S3-compatible bucket.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "index/")
//	ix, err := barrel.Open(ctx, store)
//
// Reads are ranged GETs. Create streams a multipart upload, and Rename is a
// server-side copy followed by a delete, so a barrel becomes visible under
// its final name only after the copy completed.
package minio
