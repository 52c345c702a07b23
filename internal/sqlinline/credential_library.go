package sqlinline

const QSelectCredentialLibrary = `--sql 5a9c3e71-2f4b-4d86-9e0a-b1c2d3e4f506
select name, secret, platform, last_used_at
from credential_library
where enabled = true
  and ($1::text = '' or lower(platform) = lower($1::text))
order by created_at asc, name asc;
`

const QUpsertCredential = `--sql 9d2b7f40-8c1e-4a53-b6f7-3e4d5c6b7a82
insert into credential_library (name, secret, platform, enabled, created_at)
values ($1::text, $2::text, $3::text, true, now())
on conflict (platform, name) do update set
    secret = excluded.secret,
    enabled = true;
`

const QTouchCredential = `--sql e8f1a2b3-4c5d-4e6f-8a7b-9c0d1e2f3a4b
update credential_library
set last_used_at = greatest(coalesce(last_used_at, $3::timestamptz), $3::timestamptz)
where platform = $1::text
  and name = $2::text;
`
