// Package all registers every database backend. Blank-import it from a main
// package to make the kinds in store.Config selectable at runtime.
package all

import (
	_ "productelt/internal/store/mssql"
	_ "productelt/internal/store/postgres"
	_ "productelt/internal/store/sqlite"
)
