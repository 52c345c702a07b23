package sqlinline

const QUpsertBatchJob = `--sql 3b1f6c2e-9a47-4d0b-8e21-5c7d9f0a1b34
insert into batch_jobs (
    id, status, progress, input, fingerprint, request_id,
    attempts, max_attempts, result_url, local_path, file_name,
    error_code, error_message, created_at, updated_at, credential
)
values ($1::text, $2::text, $3::float8, $4::jsonb, $5::text, nullif($6::text, ''),
        $7::int, $8::int, nullif($9::text, ''), nullif($10::text, ''), nullif($11::text, ''),
        nullif($12::text, ''), nullif($13::text, ''), $14::timestamptz, $15::timestamptz,
        nullif($16::text, ''))
on conflict (id) do update set
    status = excluded.status,
    progress = excluded.progress,
    input = excluded.input,
    fingerprint = excluded.fingerprint,
    request_id = excluded.request_id,
    attempts = excluded.attempts,
    max_attempts = excluded.max_attempts,
    result_url = excluded.result_url,
    local_path = excluded.local_path,
    file_name = excluded.file_name,
    error_code = excluded.error_code,
    error_message = excluded.error_message,
    updated_at = excluded.updated_at,
    credential = excluded.credential
where batch_jobs.updated_at <= excluded.updated_at;
`

const QSelectBatchJobs = `--sql 7e0a2d95-1c63-4f8a-b2d4-0f9e8c7b6a51
select id, status, progress, input, fingerprint,
       coalesce(request_id, ''), attempts, max_attempts,
       coalesce(result_url, ''), coalesce(local_path, ''), coalesce(file_name, ''),
       coalesce(error_code, ''), coalesce(error_message, ''),
       created_at, updated_at, coalesce(credential, '')
from batch_jobs
order by created_at asc, id asc;
`
