package cloudsync

import "fmt"

// checkSchema validates a local table schema against the cloud's cached
// schema Order of checks matters for error messages but not
// for correctness: table existence, then primary-key coverage, then
// per-field type/nullability compatibility.
func checkSchema(local RelationalSchemaObject, cloud DatabaseSchema) error {
	if !cloud.Exists {
		return wrapStatus(StatusCloudSchemaMismatch,
			fmt.Sprintf("table %q not present in cloud schema", local.TableName), nil)
	}

	cloudByName := make(map[string]SchemaField, len(cloud.Fields))
	for _, f := range cloud.Fields {
		cloudByName[f.Name] = f
	}

	for _, lf := range local.Fields {
		if !lf.Primary {
			continue
		}

		cf, ok := cloudByName[lf.Name]
		if !ok || !cf.Primary {
			return wrapStatus(StatusCloudSchemaMismatch,
				fmt.Sprintf("primary key column %q missing or not primary in cloud schema", lf.Name), nil)
		}
	}

	localByName := make(map[string]SchemaField, len(local.Fields))
	for _, f := range local.Fields {
		localByName[f.Name] = f
	}

	for _, cf := range cloud.Fields {
		lf, ok := localByName[cf.Name]
		if !ok {
			return wrapStatus(StatusCloudSchemaMismatch,
				fmt.Sprintf("cloud column %q has no local counterpart", cf.Name), nil)
		}

		if lf.Type != cf.Type {
			return wrapStatus(StatusCloudSchemaMismatch,
				fmt.Sprintf("column %q type mismatch: local=%d cloud=%d", cf.Name, lf.Type, cf.Type), nil)
		}

		// Nullability: the local side may be the more permissive (nullable
		// locally, required in the cloud schema is fine; the reverse is not).
		if cf.Nullable && !lf.Nullable {
			return wrapStatus(StatusCloudSchemaMismatch,
				fmt.Sprintf("column %q is nullable in cloud schema but required locally", cf.Name), nil)
		}
	}

	return nil
}
