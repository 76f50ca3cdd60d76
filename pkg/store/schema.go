package store

// Schema defines the SQLite database schema for WhatsApp group data and
// knowledge-base topics.
const schema = `
-- Groups table: every WhatsApp group the bot has seen
CREATE TABLE IF NOT EXISTS groups (
    jid TEXT PRIMARY KEY,           -- e.g. 12036304@g.us
    name TEXT,
    managed BOOLEAN DEFAULT FALSE,  -- knowledge base enabled for this group
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Community membership: groups sharing a key share one knowledge base
CREATE TABLE IF NOT EXISTS group_communities (
    group_jid TEXT NOT NULL,
    community_key TEXT NOT NULL,
    PRIMARY KEY (group_jid, community_key),
    FOREIGN KEY (group_jid) REFERENCES groups(jid)
);

-- Senders table: message authors
CREATE TABLE IF NOT EXISTS senders (
    jid TEXT PRIMARY KEY,           -- e.g. 972501234567@s.whatsapp.net
    push_name TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Messages table: group chat history
CREATE TABLE IF NOT EXISTS messages (
    id TEXT NOT NULL,               -- WhatsApp message ID
    chat_jid TEXT NOT NULL,         -- chat the message arrived in
    group_jid TEXT,                 -- group JID, '' for direct chats
    sender_jid TEXT NOT NULL,
    text TEXT,
    timestamp_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (id, chat_jid),
    FOREIGN KEY (sender_jid) REFERENCES senders(jid)
);

-- Reactions table: emoji reactions to messages
CREATE TABLE IF NOT EXISTS reactions (
    chat_jid TEXT NOT NULL,
    message_id TEXT NOT NULL,
    sender_jid TEXT NOT NULL,
    emoji TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    PRIMARY KEY (chat_jid, message_id, sender_jid),
    FOREIGN KEY (sender_jid) REFERENCES senders(jid)
);

-- Knowledge-base topics: pre-extracted subject/summary pairs
CREATE TABLE IF NOT EXISTS kbtopics (
    id TEXT PRIMARY KEY,
    group_jid TEXT,                 -- '' marks an orphan, excluded from search
    subject TEXT NOT NULL,
    summary TEXT NOT NULL,
    milvus_synced INTEGER DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_messages_chat_timestamp ON messages(chat_jid, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_jid);
CREATE INDEX IF NOT EXISTS idx_kbtopics_group ON kbtopics(group_jid);
CREATE INDEX IF NOT EXISTS idx_group_communities_key ON group_communities(community_key);
CREATE INDEX IF NOT EXISTS idx_reactions_message ON reactions(message_id);

-- Metadata table for tracking schema state
CREATE TABLE IF NOT EXISTS sync_metadata (
    key TEXT PRIMARY KEY,
    value TEXT,
    updated_at INTEGER NOT NULL
);
`

type migration struct {
	Version    int
	Statements []string
}

// migrations contains SQL migrations to run in order (tracked via sync_metadata.schema_version).
var migrations = []migration{
	{
		Version: 1,
		Statements: []string{
			`ALTER TABLE messages ADD COLUMN group_jid TEXT;`,
			`UPDATE messages SET group_jid = chat_jid WHERE group_jid IS NULL AND chat_jid LIKE '%@g.us';`,
		},
	},
	{
		Version: 2,
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_group_communities_key ON group_communities(community_key);`,
		},
	},
	{
		Version: 3,
		Statements: []string{
			`ALTER TABLE kbtopics ADD COLUMN milvus_synced INTEGER DEFAULT 0;`,
		},
	},
}
