package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Rule definitions persist their structured pieces (tier ladders, seasonal
// windows) as JSONB columns. Scan must accept both []byte and string since
// driver behavior differs between text and binary protocols.
var (
	_ sql.Scanner   = (*RuleTiers)(nil)
	_ driver.Valuer = RuleTiers(nil)
	_ sql.Scanner   = (*SeasonalWindow)(nil)
	_ driver.Valuer = SeasonalWindow{}
)

func scanJSONB(dest any, src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", src)
	}
}

func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (w *SeasonalWindow) Scan(src any) error { return scanJSONB(w, src) }

func (w SeasonalWindow) Value() (driver.Value, error) { return valueJSONB(w) }
