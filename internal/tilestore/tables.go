package tilestore

// Table names one of the logical tables sharing the (x, y, z) addressing
// scheme. All tables live in a single store file so one run produces one
// artifact that later runs can resume from.
type Table string

const (
	// TableImageAssets maps tiles to finished satellite-image asset IDs.
	TableImageAssets Table = "img_asset_ids"

	// TableMeshAssets maps tiles to finished terrain-mesh asset IDs.
	TableMeshAssets Table = "mesh_asset_ids"

	// TableImageOperations holds pending async upload operations for images.
	TableImageOperations Table = "img_operations"

	// TableMeshOperations holds pending async upload operations for meshes.
	TableMeshOperations Table = "mesh_operations"

	// TableMissedImages marks image tiles whose generation or upload has
	// not completed, with a retry count.
	TableMissedImages Table = "missed_img"

	// TableMissedMeshes marks mesh tiles whose generation or upload has
	// not completed, with a retry count.
	TableMissedMeshes Table = "missed_mesh"

	// TableMeshVertexOffsets records the global vertex index base assigned
	// to each mesh tile. Assigned once per tile and kept for as long as any
	// stitched neighbour may reference it.
	TableMeshVertexOffsets Table = "mesh_vert_offsets"
)

// Tables lists every logical table, in a stable order.
func Tables() []Table {
	return []Table{
		TableImageAssets,
		TableMeshAssets,
		TableImageOperations,
		TableMeshOperations,
		TableMissedImages,
		TableMissedMeshes,
		TableMeshVertexOffsets,
	}
}

func (t Table) valid() bool {
	switch t {
	case TableImageAssets, TableMeshAssets, TableImageOperations,
		TableMeshOperations, TableMissedImages, TableMissedMeshes,
		TableMeshVertexOffsets:
		return true
	}
	return false
}
