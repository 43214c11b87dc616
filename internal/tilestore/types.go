package tilestore

import "github.com/atlastiles/tilegen/internal/tiles"

// Key aliases the worklist tile key. The store and the quadtree share one
// addressing scheme; the alias keeps callers from converting between two
// identical triples.
type Key = tiles.Key
