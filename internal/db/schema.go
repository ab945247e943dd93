package db

// Schema defines the five logical tables of the license store. All
// timestamps are Unix seconds. Unique constraints carry the system's
// concurrency guarantees: concurrent webhook deliveries for one event_id
// race on insert and exactly one wins.
const Schema = `
-- Accounts: one row per email; created on first code request or first
-- customer webhook. created_at anchors the trial-day computation.
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    paddle_customer_id TEXT UNIQUE,
    created_at INTEGER NOT NULL
);

-- Magic codes: one-time login codes, stored only as peppered hashes.
-- Several may be outstanding per email; lookup takes the most recent
-- unconsumed, unexpired one.
CREATE TABLE IF NOT EXISTS magic_codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL,
    code_hash TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    consumed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_magic_codes_email_created ON magic_codes(email, created_at DESC);

-- Sessions: bearer tokens stored only as peppered hashes; absolute expiry,
-- no renewal.
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    token_hash TEXT UNIQUE NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

-- Subscriptions: upserted keyed by the provider's subscription ID. The
-- most-recently-updated row per account is authoritative for entitlement.
CREATE TABLE IF NOT EXISTS subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    paddle_subscription_id TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL,
    plan_name TEXT,
    current_period_ends_at TEXT,
    raw_payload TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_account_updated ON subscriptions(account_id, updated_at DESC);

-- Webhook events: append-only idempotency ledger. Duplicate event_id insert
-- is the already-processed signal, not an error.
CREATE TABLE IF NOT EXISTS webhook_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    received_at INTEGER NOT NULL
);
`
