package domain

// Record 是一条待迁移的 CMS 记录：字段名 -> JSON 值。
type Record map[string]any

// Body 返回 CMS REST API 期望的请求体形态：{"data": {...}}。
func (r Record) Body() map[string]any {
	return map[string]any{"data": map[string]any(r)}
}
