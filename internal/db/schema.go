package db

// SchemaSQL contains the chat schema initialization SQL. The thread table
// holds per-user aggregates (preview, unread counts) maintained on every
// message write so the operator console never scans the message table.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS sender ON message TYPE string
        ASSERT $value IN ["user", "admin", "system"];
    DEFINE FIELD IF NOT EXISTS body ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON message TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS read_by_user ON message TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS read_by_admin ON message TYPE bool DEFAULT false;

    DEFINE INDEX IF NOT EXISTS message_owner ON message FIELDS owner;
    DEFINE INDEX IF NOT EXISTS message_owner_created ON message FIELDS owner, created;

    DEFINE TABLE IF NOT EXISTS thread SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS owner ON thread TYPE string;
    DEFINE FIELD IF NOT EXISTS last_body ON thread TYPE string;
    DEFINE FIELD IF NOT EXISTS last_sender ON thread TYPE string;
    DEFINE FIELD IF NOT EXISTS last_activity ON thread TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS unread_admin ON thread TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS unread_user ON thread TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS closed ON thread TYPE bool DEFAULT false;

    DEFINE INDEX IF NOT EXISTS thread_owner ON thread FIELDS owner UNIQUE;
    DEFINE INDEX IF NOT EXISTS thread_activity ON thread FIELDS last_activity;
`
