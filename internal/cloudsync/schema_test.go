package cloudsync

import "testing"

func TestCheckSchema_MissingCloudTable(t *testing.T) {
	local := RelationalSchemaObject{TableName: "users"}
	cloud := DatabaseSchema{TableName: "users", Exists: false}

	err := checkSchema(local, cloud)
	if StatusOf(err) != StatusCloudSchemaMismatch {
		t.Fatalf("want StatusCloudSchemaMismatch, got %v", err)
	}
}

func TestCheckSchema_PrimaryKeyColumnNotPrimaryInCloud(t *testing.T) {
	local := RelationalSchemaObject{TableName: "users", Fields: []SchemaField{
		{Name: "id", Primary: true},
	}}
	cloud := DatabaseSchema{TableName: "users", Exists: true, Fields: []SchemaField{
		{Name: "id", Primary: false},
	}}

	err := checkSchema(local, cloud)
	if StatusOf(err) != StatusCloudSchemaMismatch {
		t.Fatalf("want mismatch when cloud column isn't primary, got %v", err)
	}
}

func TestCheckSchema_TypeMismatch(t *testing.T) {
	local := RelationalSchemaObject{TableName: "t", Fields: []SchemaField{
		{Name: "n", Type: FieldInt},
	}}
	cloud := DatabaseSchema{TableName: "t", Exists: true, Fields: []SchemaField{
		{Name: "n", Type: FieldString},
	}}

	if err := checkSchema(local, cloud); StatusOf(err) != StatusCloudSchemaMismatch {
		t.Fatalf("want type mismatch error, got %v", err)
	}
}

func TestCheckSchema_LocalMorePermissiveNullabilityIsOK(t *testing.T) {
	local := RelationalSchemaObject{TableName: "t", Fields: []SchemaField{
		{Name: "n", Type: FieldString, Nullable: true},
	}}
	cloud := DatabaseSchema{TableName: "t", Exists: true, Fields: []SchemaField{
		{Name: "n", Type: FieldString, Nullable: false},
	}}

	if err := checkSchema(local, cloud); err != nil {
		t.Fatalf("local nullable / cloud required should be compatible, got %v", err)
	}
}

func TestCheckSchema_CloudNullableLocalRequiredFails(t *testing.T) {
	local := RelationalSchemaObject{TableName: "t", Fields: []SchemaField{
		{Name: "n", Type: FieldString, Nullable: false},
	}}
	cloud := DatabaseSchema{TableName: "t", Exists: true, Fields: []SchemaField{
		{Name: "n", Type: FieldString, Nullable: true},
	}}

	if err := checkSchema(local, cloud); StatusOf(err) != StatusCloudSchemaMismatch {
		t.Fatalf("cloud nullable / local required should mismatch, got %v", err)
	}
}

func TestCheckSchema_CompatibleSchemaPasses(t *testing.T) {
	local := RelationalSchemaObject{TableName: "t", Fields: []SchemaField{
		{Name: "id", Type: FieldString, Primary: true},
		{Name: "name", Type: FieldString, Nullable: true},
	}}
	cloud := DatabaseSchema{TableName: "t", Exists: true, Fields: []SchemaField{
		{Name: "id", Type: FieldString, Primary: true},
		{Name: "name", Type: FieldString, Nullable: true},
	}}

	if err := checkSchema(local, cloud); err != nil {
		t.Fatalf("want compatible schema to pass, got %v", err)
	}
}
