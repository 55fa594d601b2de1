package products

func SetIDSource(s *PostgresStore, next func() string) { s.newID = next }
