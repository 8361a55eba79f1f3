package sqlinline

const QJobsEnsureSchema = `--sql f565bf80-a4e2-4bdc-a855-94aae513e130
create table if not exists pipeline_jobs (
    id            uuid primary key,
    run_id        text not null,
    unit          text not null,
    stage         text not null,
    service       text not null,
    kind          text not null,
    status_url    text not null default '',
    status        text not null,
    result_json   jsonb,
    error_message text not null default '',
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now()
);
create index if not exists pipeline_jobs_run_idx on pipeline_jobs (run_id, status);
create table if not exists pipeline_units (
    run_id        text not null,
    unit          text not null,
    params        jsonb not null default '{}'::jsonb,
    stage         text not null default '',
    outcome       text not null,
    error_message text not null default '',
    updated_at    timestamptz not null default now(),
    primary key (run_id, unit)
);
`

const QJobsInsert = `--sql 68840580-9e49-4fb1-85c1-4b8f8583d2c2
insert into pipeline_jobs (id, run_id, unit, stage, service, kind, status_url, status)
values ($1, $2, $3, $4, $5, $6, $7, $8)
returning created_at, updated_at;
`

const QJobsClose = `--sql 3d3036b6-f6ca-4c0a-92ee-5d735b1c0ed2
update pipeline_jobs
set status = $2,
    updated_at = now(),
    error_message = coalesce($3, error_message),
    result_json = coalesce($4, result_json)
where id = $1;
`

const QJobsGetByID = `--sql 1e9e9390-8034-432f-9da1-a5e57327ef92
select id, run_id, unit, stage, service, kind, status_url, status,
       coalesce(result_json, 'null'::jsonb), error_message, created_at, updated_at
from pipeline_jobs
where id = $1;
`

const QJobsListOpen = `--sql 7a8d89cd-caa5-4bbe-9c81-4db77115690d
select id, run_id, unit, stage, service, kind, status_url, status,
       coalesce(result_json, 'null'::jsonb), error_message, created_at, updated_at
from pipeline_jobs
where status in ('pending', 'running')
  and created_at < now() - make_interval(secs => $1)
order by created_at asc;
`

const QUnitsUpsert = `--sql 6b155696-30bd-407d-ab0d-e8e2cb4a6e35
insert into pipeline_units (run_id, unit, params, stage, outcome, error_message)
values ($1, $2, $3, $4, $5, $6)
on conflict (run_id, unit) do update
set params = excluded.params,
    stage = excluded.stage,
    outcome = excluded.outcome,
    error_message = excluded.error_message,
    updated_at = now()
returning updated_at;
`

const QJobsListFailedUnits = `--sql f8defba4-1bcc-439f-b4fd-c22aa7aa4a1f
select unit, params, stage, outcome, error_message, updated_at
from pipeline_units
where run_id = $1 and outcome in ('failed', 'skipped')
order by unit;
`
