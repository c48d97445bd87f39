package blobstore

// Media type strings are byte-exact and used only to locate blobs within an
// OCI manifest's layer list; no other component inspects them.
// Grounded on _examples/original_source/puzzlefs-lib/src/oci/media_types.rs.
const (
	MediaTypeRootfs = "application/vnd.puzzlefs.image.rootfs.v1"
	MediaTypeChunk  = "application/vnd.puzzlefs.image.layer.puzzlefs.v1"
)
