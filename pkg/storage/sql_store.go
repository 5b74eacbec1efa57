package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/dagflow/pkg/core/pipeline"
	"github.com/LENAX/dagflow/pkg/core/task"
	"github.com/LENAX/dagflow/pkg/storage/dao"
)

// SQLStore Store接口的sqlx实现（对外导出）
// 通过Dialect适配SQLite/MySQL/PostgreSQL的语法差异，
// 各方言包负责建立连接并注入对应的Dialect
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewSQLStore 创建SQLStore并初始化表结构（对外导出）
func NewSQLStore(db *sqlx.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("数据库连接不能为空")
	}
	if dialect == nil {
		return nil, fmt.Errorf("SQL方言不能为空")
	}

	store := &SQLStore{db: db, dialect: dialect}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return store, nil
}

// GetDB 获取底层数据库连接（对外导出）
func (s *SQLStore) GetDB() *sqlx.DB {
	return s.db
}

// Close 关闭数据库连接（对外导出）
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initSchema 初始化数据库表结构（内部方法）
func (s *SQLStore) initSchema() error {
	ts := s.dialect.TimestampType()
	boolean := s.dialect.BooleanType()
	opts := s.dialect.TableOptions()

	// Pipeline定义表
	createPipelineSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS pipeline_definition (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		description TEXT,
		schedule VARCHAR(100) DEFAULT '',
		status VARCHAR(50) NOT NULL DEFAULT 'ENABLED',
		params TEXT,
		task_count INTEGER NOT NULL DEFAULT 0,
		create_time %s NOT NULL,
		update_time %s NOT NULL
	)%s;`, ts, ts, opts)

	// Run记录表
	createRunSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS pipeline_run (
		id VARCHAR(36) PRIMARY KEY,
		pipeline_id VARCHAR(36) NOT NULL,
		pipeline_name VARCHAR(255) NOT NULL,
		state VARCHAR(50) NOT NULL,
		triggered_by VARCHAR(50) NOT NULL DEFAULT '',
		execution_date %s NOT NULL,
		start_time %s NOT NULL,
		end_time %s NULL,
		params TEXT,
		failure_node VARCHAR(255),
		failure_reason TEXT
	)%s;`, ts, ts, ts, opts)

	// Run节点状态明细表
	createNodeStatusSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS run_node_status (
		run_id VARCHAR(36) NOT NULL,
		node_id VARCHAR(255) NOT NULL,
		node_name VARCHAR(255) NOT NULL DEFAULT '',
		group_id VARCHAR(255),
		state VARCHAR(50) NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		gate_passed %s,
		gate_detail TEXT,
		reason TEXT,
		start_time %s NULL,
		end_time %s NULL,
		PRIMARY KEY (run_id, node_id)
	)%s;`, boolean, ts, ts, opts)

	indexSQLs := []string{
		`CREATE INDEX IF NOT EXISTS idx_pipeline_run_pipeline_id ON pipeline_run(pipeline_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_run_state ON pipeline_run(state);`,
		`CREATE INDEX IF NOT EXISTS idx_run_node_status_run_id ON run_node_status(run_id);`,
	}

	statements := []string{createPipelineSQL, createRunSQL, createNodeStatusSQL}
	// MySQL不支持CREATE INDEX IF NOT EXISTS，忽略重复索引错误
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("执行DDL失败: %w", err)
		}
	}
	for _, stmt := range indexSQLs {
		if s.dialect.Name() == "mysql" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("创建索引失败: %w", err)
		}
	}
	return nil
}

// ========== Pipeline元数据操作 ==========

// SavePipeline 保存流水线元数据，按ID幂等（对外导出）
func (s *SQLStore) SavePipeline(ctx context.Context, meta *PipelineMeta) error {
	if meta == nil {
		return fmt.Errorf("流水线元数据不能为空")
	}

	paramsJSON, err := json.Marshal(meta.Params)
	if err != nil {
		return fmt.Errorf("序列化流水线参数失败: %w", err)
	}

	pipelineDAO := &dao.PipelineDAO{
		ID:          meta.ID,
		Name:        meta.Name,
		Description: meta.Description,
		Schedule:    meta.Schedule,
		Status:      meta.Status,
		Params:      string(paramsJSON),
		TaskCount:   meta.TaskCount,
		CreateTime:  meta.CreateTime,
		UpdateTime:  meta.UpdateTime,
	}
	if pipelineDAO.UpdateTime.IsZero() {
		pipelineDAO.UpdateTime = time.Now()
	}

	query := s.dialect.UpsertSQL(
		"pipeline_definition",
		[]string{"id", "name", "description", "schedule", "status", "params", "task_count", "create_time", "update_time"},
		[]string{"id"},
		[]string{"name", "description", "schedule", "status", "params", "task_count", "update_time"},
	)
	if _, err := s.db.NamedExecContext(ctx, query, pipelineDAO); err != nil {
		return fmt.Errorf("保存流水线元数据失败: %w", err)
	}
	return nil
}

// GetPipeline 根据ID查询流水线元数据（对外导出）
func (s *SQLStore) GetPipeline(ctx context.Context, id string) (*PipelineMeta, error) {
	return s.getPipelineWhere(ctx, "id = ?", id)
}

// GetPipelineByName 根据名称查询流水线元数据（对外导出）
func (s *SQLStore) GetPipelineByName(ctx context.Context, name string) (*PipelineMeta, error) {
	return s.getPipelineWhere(ctx, "name = ?", name)
}

// getPipelineWhere 按条件查询单条流水线元数据（内部方法）
func (s *SQLStore) getPipelineWhere(ctx context.Context, where string, arg interface{}) (*PipelineMeta, error) {
	var pipelineDAO dao.PipelineDAO
	query := s.db.Rebind(`SELECT id, name, description, schedule, status, params, task_count,
	          create_time, update_time FROM pipeline_definition WHERE ` + where)
	if err := s.db.GetContext(ctx, &pipelineDAO, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询流水线元数据失败: %w", err)
	}
	return s.daoToPipelineMeta(&pipelineDAO)
}

// ListPipelines 查询所有流水线元数据，按名称排序（对外导出）
func (s *SQLStore) ListPipelines(ctx context.Context) ([]*PipelineMeta, error) {
	var pipelineDAOs []dao.PipelineDAO
	query := `SELECT id, name, description, schedule, status, params, task_count,
	          create_time, update_time FROM pipeline_definition ORDER BY name`
	if err := s.db.SelectContext(ctx, &pipelineDAOs, query); err != nil {
		return nil, fmt.Errorf("查询流水线列表失败: %w", err)
	}

	metas := make([]*PipelineMeta, 0, len(pipelineDAOs))
	for i := range pipelineDAOs {
		meta, err := s.daoToPipelineMeta(&pipelineDAOs[i])
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// UpdatePipelineStatus 更新流水线状态（对外导出）
func (s *SQLStore) UpdatePipelineStatus(ctx context.Context, id, status string) error {
	query := s.db.Rebind(`UPDATE pipeline_definition SET status = ?, update_time = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, status, time.Now(), id); err != nil {
		return fmt.Errorf("更新流水线状态失败: %w", err)
	}
	return nil
}

// DeletePipeline 删除流水线元数据及其所有Run记录，幂等（对外导出）
func (s *SQLStore) DeletePipeline(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	// 1. 删除节点状态明细
	deleteNodesSQL := tx.Rebind(`DELETE FROM run_node_status WHERE run_id IN
		(SELECT id FROM pipeline_run WHERE pipeline_id = ?)`)
	if _, err := tx.ExecContext(ctx, deleteNodesSQL, id); err != nil {
		return fmt.Errorf("删除节点状态失败: %w", err)
	}

	// 2. 删除Run记录
	deleteRunsSQL := tx.Rebind(`DELETE FROM pipeline_run WHERE pipeline_id = ?`)
	if _, err := tx.ExecContext(ctx, deleteRunsSQL, id); err != nil {
		return fmt.Errorf("删除Run记录失败: %w", err)
	}

	// 3. 删除流水线定义
	deletePipelineSQL := tx.Rebind(`DELETE FROM pipeline_definition WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, deletePipelineSQL, id); err != nil {
		return fmt.Errorf("删除流水线定义失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// daoToPipelineMeta 将PipelineDAO转换为PipelineMeta（内部方法）
func (s *SQLStore) daoToPipelineMeta(pipelineDAO *dao.PipelineDAO) (*PipelineMeta, error) {
	var params map[string]interface{}
	if pipelineDAO.Params != "" {
		if err := json.Unmarshal([]byte(pipelineDAO.Params), &params); err != nil {
			return nil, fmt.Errorf("反序列化流水线参数失败: %w", err)
		}
	}

	return &PipelineMeta{
		ID:          pipelineDAO.ID,
		Name:        pipelineDAO.Name,
		Description: pipelineDAO.Description,
		Schedule:    pipelineDAO.Schedule,
		Status:      pipelineDAO.Status,
		Params:      params,
		TaskCount:   pipelineDAO.TaskCount,
		CreateTime:  pipelineDAO.CreateTime,
		UpdateTime:  pipelineDAO.UpdateTime,
	}, nil
}

// ========== Run记录操作 ==========

// SaveRun 保存新创建的Run，按ID幂等（对外导出）
func (s *SQLStore) SaveRun(ctx context.Context, run *pipeline.Run) error {
	if run == nil {
		return fmt.Errorf("Run不能为空")
	}

	runDAO, err := s.runToDAO(run)
	if err != nil {
		return err
	}

	query := s.dialect.UpsertSQL(
		"pipeline_run",
		[]string{"id", "pipeline_id", "pipeline_name", "state", "triggered_by", "execution_date",
			"start_time", "end_time", "params", "failure_node", "failure_reason"},
		[]string{"id"},
		[]string{"state", "end_time", "failure_node", "failure_reason"},
	)
	if _, err := s.db.NamedExecContext(ctx, query, runDAO); err != nil {
		return fmt.Errorf("保存Run失败: %w", err)
	}
	return nil
}

// UpdateRun 更新Run状态（对外导出）
func (s *SQLStore) UpdateRun(ctx context.Context, run *pipeline.Run) error {
	if run == nil {
		return fmt.Errorf("Run不能为空")
	}

	runDAO, err := s.runToDAO(run)
	if err != nil {
		return err
	}

	query := `UPDATE pipeline_run SET state = :state, end_time = :end_time,
	          failure_node = :failure_node, failure_reason = :failure_reason WHERE id = :id`
	if _, err := s.db.NamedExecContext(ctx, query, runDAO); err != nil {
		return fmt.Errorf("更新Run失败: %w", err)
	}
	return nil
}

// GetRun 根据ID查询Run（对外导出）
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*pipeline.Run, error) {
	var runDAO dao.RunDAO
	query := s.db.Rebind(`SELECT id, pipeline_id, pipeline_name, state, triggered_by, execution_date,
	          start_time, end_time, params, failure_node, failure_reason FROM pipeline_run WHERE id = ?`)
	if err := s.db.GetContext(ctx, &runDAO, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Run %s 不存在", runID)
		}
		return nil, fmt.Errorf("查询Run失败: %w", err)
	}
	return s.daoToRun(&runDAO)
}

// ListRuns 查询某流水线最近的Run记录，按开始时间倒序（对外导出）
// pipelineID为空表示查询全部；limit<=0表示不限制
func (s *SQLStore) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*pipeline.Run, error) {
	query := `SELECT id, pipeline_id, pipeline_name, state, triggered_by, execution_date,
	          start_time, end_time, params, failure_node, failure_reason FROM pipeline_run`
	args := make([]interface{}, 0, 2)
	if pipelineID != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY start_time DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var runDAOs []dao.RunDAO
	if err := s.db.SelectContext(ctx, &runDAOs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询Run记录失败: %w", err)
	}

	runs := make([]*pipeline.Run, 0, len(runDAOs))
	for i := range runDAOs {
		run, err := s.daoToRun(&runDAOs[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListActiveRuns 查询所有未结束的Run（对外导出）
// 引擎重启后据此发现被中断的Run并统一判失败
func (s *SQLStore) ListActiveRuns(ctx context.Context) ([]*pipeline.Run, error) {
	var runDAOs []dao.RunDAO
	query := s.db.Rebind(`SELECT id, pipeline_id, pipeline_name, state, triggered_by, execution_date,
	          start_time, end_time, params, failure_node, failure_reason FROM pipeline_run
	          WHERE state IN (?, ?)`)
	err := s.db.SelectContext(ctx, &runDAOs, query,
		string(task.RunStateInitializing), string(task.RunStateRunning))
	if err != nil {
		return nil, fmt.Errorf("查询未结束Run失败: %w", err)
	}

	runs := make([]*pipeline.Run, 0, len(runDAOs))
	for i := range runDAOs {
		run, err := s.daoToRun(&runDAOs[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// runToDAO 将Run实体转换为RunDAO（内部方法）
func (s *SQLStore) runToDAO(run *pipeline.Run) (*dao.RunDAO, error) {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return nil, fmt.Errorf("序列化Run参数失败: %w", err)
	}

	runDAO := &dao.RunDAO{
		ID:            run.ID,
		PipelineID:    run.PipelineID,
		PipelineName:  run.PipelineName,
		State:         string(run.State),
		TriggeredBy:   run.TriggeredBy,
		ExecutionDate: run.ExecutionDate,
		StartTime:     run.StartTime,
		Params:        string(paramsJSON),
	}
	if !run.EndTime.IsZero() {
		runDAO.EndTime.Valid = true
		runDAO.EndTime.Time = run.EndTime
	}
	if run.FailureNodeID != "" {
		runDAO.FailureNode.Valid = true
		runDAO.FailureNode.String = run.FailureNodeID
	}
	if run.FailureReason != "" {
		runDAO.FailureReason.Valid = true
		runDAO.FailureReason.String = run.FailureReason
	}
	return runDAO, nil
}

// daoToRun 将RunDAO转换为Run实体（内部方法）
func (s *SQLStore) daoToRun(runDAO *dao.RunDAO) (*pipeline.Run, error) {
	var params map[string]interface{}
	if runDAO.Params != "" {
		if err := json.Unmarshal([]byte(runDAO.Params), &params); err != nil {
			return nil, fmt.Errorf("反序列化Run参数失败: %w", err)
		}
	}

	run := &pipeline.Run{
		ID:            runDAO.ID,
		PipelineID:    runDAO.PipelineID,
		PipelineName:  runDAO.PipelineName,
		State:         task.RunState(runDAO.State),
		TriggeredBy:   runDAO.TriggeredBy,
		ExecutionDate: runDAO.ExecutionDate,
		StartTime:     runDAO.StartTime,
		Params:        params,
	}
	if runDAO.EndTime.Valid {
		run.EndTime = runDAO.EndTime.Time
	}
	if runDAO.FailureNode.Valid {
		run.FailureNodeID = runDAO.FailureNode.String
	}
	if runDAO.FailureReason.Valid {
		run.FailureReason = runDAO.FailureReason.String
	}
	return run, nil
}

// ========== 节点状态明细操作 ==========

// SaveNodeStatus 保存或更新某Run中单个节点的执行状态（对外导出）
// 主键(run_id, node_id)，每次状态变化UPSERT一次，天然幂等
func (s *SQLStore) SaveNodeStatus(ctx context.Context, runID string, status *pipeline.NodeStatus) error {
	if status == nil {
		return fmt.Errorf("节点状态不能为空")
	}

	statusDAO := &dao.NodeStatusDAO{
		RunID:    runID,
		NodeID:   status.NodeID,
		NodeName: status.NodeName,
		State:    string(status.State),
		Attempts: status.Attempts,
	}
	if status.GroupID != "" {
		statusDAO.GroupID.Valid = true
		statusDAO.GroupID.String = status.GroupID
	}
	if status.GateResult != nil {
		statusDAO.GatePassed.Valid = true
		statusDAO.GatePassed.Bool = status.GateResult.Passed
		if status.GateResult.Detail != "" {
			statusDAO.GateDetail.Valid = true
			statusDAO.GateDetail.String = status.GateResult.Detail
		}
	}
	if status.Reason != "" {
		statusDAO.Reason.Valid = true
		statusDAO.Reason.String = status.Reason
	}
	if !status.StartTime.IsZero() {
		statusDAO.StartTime.Valid = true
		statusDAO.StartTime.Time = status.StartTime
	}
	if !status.EndTime.IsZero() {
		statusDAO.EndTime.Valid = true
		statusDAO.EndTime.Time = status.EndTime
	}

	query := s.dialect.UpsertSQL(
		"run_node_status",
		[]string{"run_id", "node_id", "node_name", "group_id", "state", "attempts",
			"gate_passed", "gate_detail", "reason", "start_time", "end_time"},
		[]string{"run_id", "node_id"},
		[]string{"node_name", "group_id", "state", "attempts", "gate_passed", "gate_detail",
			"reason", "start_time", "end_time"},
	)
	if _, err := s.db.NamedExecContext(ctx, query, statusDAO); err != nil {
		return fmt.Errorf("保存节点状态失败: %w", err)
	}
	return nil
}

// ListNodeStatuses 查询某Run的所有节点执行状态，按节点ID排序（对外导出）
func (s *SQLStore) ListNodeStatuses(ctx context.Context, runID string) ([]*pipeline.NodeStatus, error) {
	var statusDAOs []dao.NodeStatusDAO
	query := s.db.Rebind(`SELECT run_id, node_id, node_name, group_id, state, attempts,
	          gate_passed, gate_detail, reason, start_time, end_time
	          FROM run_node_status WHERE run_id = ? ORDER BY node_id`)
	if err := s.db.SelectContext(ctx, &statusDAOs, query, runID); err != nil {
		return nil, fmt.Errorf("查询节点状态失败: %w", err)
	}

	statuses := make([]*pipeline.NodeStatus, 0, len(statusDAOs))
	for i := range statusDAOs {
		statuses = append(statuses, s.daoToNodeStatus(&statusDAOs[i]))
	}
	return statuses, nil
}

// daoToNodeStatus 将NodeStatusDAO转换为NodeStatus（内部方法）
func (s *SQLStore) daoToNodeStatus(statusDAO *dao.NodeStatusDAO) *pipeline.NodeStatus {
	status := &pipeline.NodeStatus{
		NodeID:   statusDAO.NodeID,
		NodeName: statusDAO.NodeName,
		State:    task.NodeState(statusDAO.State),
		Attempts: statusDAO.Attempts,
	}
	if statusDAO.GroupID.Valid {
		status.GroupID = statusDAO.GroupID.String
	}
	if statusDAO.GatePassed.Valid {
		result := &task.GateResult{Passed: statusDAO.GatePassed.Bool}
		if statusDAO.GateDetail.Valid {
			result.Detail = statusDAO.GateDetail.String
		}
		status.GateResult = result
	}
	if statusDAO.Reason.Valid {
		status.Reason = statusDAO.Reason.String
	}
	if statusDAO.StartTime.Valid {
		status.StartTime = statusDAO.StartTime.Time
	}
	if statusDAO.EndTime.Valid {
		status.EndTime = statusDAO.EndTime.Time
	}
	return status
}

// 确保实现接口
var _ Store = (*SQLStore)(nil)
