package export

import (
	"context"
	"fmt"

	"github.com/mbmove/mbmove/internal/mbql"
	"github.com/mbmove/mbmove/internal/types"
)

// exportDatabases captures every source database's name and its table/field
// metadata. Names are what the import side matches on, so only id/name pairs
// are kept; the rest of the metadata payload is discarded.
func (s *Session) exportDatabases(ctx context.Context) error {
	dbs, err := s.client.GetDatabases(ctx)
	if err != nil {
		return err
	}
	for _, db := range dbs {
		id, ok := mbql.AsInt(db["id"])
		if !ok {
			continue
		}
		name, _ := db["name"].(string)
		s.manifest.Databases[id] = name

		meta, err := s.client.GetDatabaseMetadata(ctx, id)
		if err != nil {
			return fmt.Errorf("metadata of database %d (%s): %w", id, name, err)
		}
		s.manifest.DatabaseMetadata[id] = simplifyMetadata(meta)
		s.log.Infof("captured database %d (%s): %d tables", id, name, len(s.manifest.DatabaseMetadata[id].Tables))
	}
	return nil
}

// simplifyMetadata reduces a metadata response to the id/name pairs the
// manifest carries.
func simplifyMetadata(meta map[string]interface{}) types.DatabaseMeta {
	var out types.DatabaseMeta
	tables, _ := meta["tables"].([]interface{})
	for _, rawTable := range tables {
		table, _ := rawTable.(map[string]interface{})
		if table == nil {
			continue
		}
		id, ok := mbql.AsInt(table["id"])
		if !ok {
			continue
		}
		name, _ := table["name"].(string)
		tm := types.TableMeta{ID: id, Name: name}

		fields, _ := table["fields"].([]interface{})
		for _, rawField := range fields {
			field, _ := rawField.(map[string]interface{})
			if field == nil {
				continue
			}
			fid, ok := mbql.AsInt(field["id"])
			if !ok {
				continue
			}
			fname, _ := field["name"].(string)
			tm.Fields = append(tm.Fields, types.FieldMeta{ID: fid, Name: fname})
		}
		out.Tables = append(out.Tables, tm)
	}
	return out
}
