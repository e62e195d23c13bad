package upgrade

// RequiredSchemaVersion is the main-database migration version this binary
// expects. Bump alongside adding a new file under migrations/.
const RequiredSchemaVersion uint = 1
