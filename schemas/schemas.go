package schemas

import "embed"

// SchemasFS - JSON-схемы событий, которые принимает сервис.
// Путь events/<event-name>/v<major>.json.
//
//go:embed events
var SchemasFS embed.FS
