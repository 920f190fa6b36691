// Package api holds the wire types and HTTP client for the controller
// REST endpoint. Field names and casing follow the controller's JSON
// conventions; optional fields are pointers or omitempty.
package api

// JobDesc is one allocation request descriptor as sent to the
// controller. A heterogeneous submission is an ordered list of these.
type JobDesc struct {
	Name        string `json:"name,omitempty"`
	Partition   string `json:"partition,omitempty"`
	QoS         string `json:"qos,omitempty"`
	Account     string `json:"account,omitempty"`
	Reservation string `json:"reservation,omitempty"`
	WCKey       string `json:"wckey,omitempty"`
	Dependency  string `json:"dependency,omitempty"`
	Comment     string `json:"comment,omitempty"`

	UserID     uint32 `json:"user_id"`
	GroupID    uint32 `json:"group_id"`
	UserName   string `json:"user_name,omitempty"`
	SubmitHost string `json:"submit_host,omitempty"`
	WorkDir    string `json:"work_dir,omitempty"`

	MinNodes       uint32 `json:"min_nodes,omitempty"`
	MaxNodes       uint32 `json:"max_nodes,omitempty"`
	NumTasks       uint32 `json:"num_tasks,omitempty"`
	CPUsPerTask    uint16 `json:"cpus_per_task,omitempty"`
	TasksPerNode   uint16 `json:"ntasks_per_node,omitempty"`
	TasksPerSocket uint16 `json:"ntasks_per_socket,omitempty"`
	TasksPerCore   uint16 `json:"ntasks_per_core,omitempty"`
	SocketsPerNode uint16 `json:"sockets_per_node,omitempty"`
	CoresPerSocket uint16 `json:"cores_per_socket,omitempty"`
	ThreadsPerCore uint16 `json:"threads_per_core,omitempty"`
	MinCPUsPerNode uint16 `json:"pn_min_cpus,omitempty"`

	// PnMinMemory carries mem-per-node in MB, or mem-per-cpu with the
	// per-CPU flag bit set.
	PnMinMemory uint64 `json:"pn_min_memory,omitempty"`
	TmpDiskMB   int64  `json:"pn_min_tmp_disk,omitempty"`

	TimeLimit uint32 `json:"time_limit,omitempty"`
	TimeMin   uint32 `json:"time_min,omitempty"`
	BeginTime string `json:"begin_time,omitempty"`
	Deadline  string `json:"deadline,omitempty"`
	Priority  uint32 `json:"priority,omitempty"`
	Nice      int32  `json:"nice,omitempty"`
	Immediate uint32 `json:"immediate,omitempty"`
	Hold      bool   `json:"hold,omitempty"`
	Requeue   bool   `json:"requeue,omitempty"`

	Geometry []uint16 `json:"geometry,omitempty"`
	ConnType []uint16 `json:"conn_type,omitempty"`
	NoRotate bool     `json:"rotate,omitempty"`
	Reboot   bool     `json:"reboot,omitempty"`

	ReqNodes   string `json:"req_nodes,omitempty"`
	ExcNodes   string `json:"exc_nodes,omitempty"`
	Contiguous bool   `json:"contiguous,omitempty"`
	Constraint string `json:"features,omitempty"`
	Licenses   string `json:"licenses,omitempty"`
	CoreSpec   uint16 `json:"core_spec,omitempty"`
	ThreadSpec bool   `json:"thread_spec,omitempty"`
	Network    string `json:"network,omitempty"`
	Exclusive  bool   `json:"exclusive,omitempty"`
	Overcommit bool   `json:"overcommit,omitempty"`
	Shared     bool   `json:"shared,omitempty"`

	TresPerJob    string `json:"tres_per_job,omitempty"`
	TresPerNode   string `json:"tres_per_node,omitempty"`
	TresPerSocket string `json:"tres_per_socket,omitempty"`
	TresPerTask   string `json:"tres_per_task,omitempty"`
	MemPerTres    string `json:"mem_per_tres,omitempty"`
	CPUsPerTres   string `json:"cpus_per_tres,omitempty"`

	Distribution string `json:"task_dist,omitempty"`
	PlaneSize    uint16 `json:"plane_size,omitempty"`

	MailType uint16 `json:"mail_type,omitempty"`
	MailUser string `json:"mail_user,omitempty"`

	CPUBind      string  `json:"cpu_bind,omitempty"`
	MemBind      string  `json:"mem_bind,omitempty"`
	Hint         string  `json:"hint,omitempty"`
	Profile      string  `json:"profile,omitempty"`
	GetUserEnv   string  `json:"get_user_env,omitempty"`
	Switches     uint32  `json:"req_switch,omitempty"`
	SwitchWait   uint32  `json:"wait4switch,omitempty"`
	NoKill       bool    `json:"no_kill,omitempty"`
	WaitAllNodes *uint16 `json:"wait_all_nodes,omitempty"`

	Environment []string `json:"environment,omitempty"`
	SpankEnv    []string `json:"spank_job_env,omitempty"`

	// Back-channel the controller posts allocation callbacks to. For
	// a hetjob every component carries the first component's values.
	AllocNode     string `json:"alloc_node,omitempty"`
	AllocPort     uint16 `json:"alloc_resp_port,omitempty"`
	CallbackToken string `json:"callback_token,omitempty"`

	HetJobOffset uint32 `json:"het_job_offset"`
}

// AllocResponse is one granted allocation. Hetjob components come
// back as an ordered list; component i's job id is the first job id
// plus i.
type AllocResponse struct {
	JobID         uint32   `json:"job_id"`
	NodeList      string   `json:"node_list"`
	NumNodes      uint32   `json:"node_cnt"`
	CPUsPerNode   []uint16 `json:"cpus_per_node,omitempty"`
	CPUCountReps  []uint32 `json:"cpu_count_reps,omitempty"`
	AliasList     string   `json:"alias_list,omitempty"`
	NtasksPerNode uint16   `json:"ntasks_per_node,omitempty"`
	ErrorCode     int      `json:"error_code,omitempty"`
	UserMessage   string   `json:"job_submit_user_msg,omitempty"`
}

// FlatCPUsPerNode expands the (count, reps) run-length pairs into one
// entry per node.
func (r *AllocResponse) FlatCPUsPerNode() []uint16 {
	var out []uint16
	for i, c := range r.CPUsPerNode {
		reps := uint32(1)
		if i < len(r.CPUCountReps) {
			reps = r.CPUCountReps[i]
		}
		for j := uint32(0); j < reps; j++ {
			out = append(out, c)
		}
	}
	return out
}

// Callback message kinds posted by the controller to the client's
// back-channel listener.
const (
	CallbackPending  = "pending"
	CallbackTimeout  = "timeout"
	CallbackUserMsg  = "user_msg"
	CallbackNodeFail = "node_fail"
	CallbackComplete = "complete"
)

// CallbackMsg is the body of a back-channel POST.
type CallbackMsg struct {
	Type     string `json:"type"`
	JobID    uint32 `json:"job_id"`
	Timeout  int64  `json:"timeout,omitempty"` // unix seconds, for "timeout"
	Message  string `json:"message,omitempty"`
	NodeName string `json:"node_name,omitempty"`
}

// ReadyResponse reports node readiness for a granted allocation.
type ReadyResponse struct {
	State         string `json:"state"` // pending|running|failed|killed
	PrologRunning bool   `json:"prolog_running"`
	ReadyNodes    uint32 `json:"ready_nodes"`
	TotalNodes    uint32 `json:"total_nodes"`
}

// JobInfo is the subset of controller job records the clients read.
type JobInfo struct {
	JobID       uint32  `json:"job_id"`
	Name        string  `json:"name"`
	UserID      uint32  `json:"user_id"`
	State       string  `json:"job_state"`
	TimeLimit   uint32  `json:"time_limit"` // minutes
	ArrayJobID  uint32  `json:"array_job_id,omitempty"`
	ArrayTaskID *uint32 `json:"array_task_id,omitempty"`
	NodeList    string  `json:"nodes,omitempty"`
	NumNodes    uint32  `json:"node_cnt,omitempty"`
}

// JobList is the controller's job query response.
type JobList struct {
	Jobs []JobInfo `json:"jobs"`
}

// JobUpdate is the update-job request. Pointer fields distinguish
// "leave alone" from zero values.
type JobUpdate struct {
	JobIDStr string `json:"job_id_str"`

	TimeLimit    *uint32 `json:"time_limit,omitempty"`
	TimeMin      *uint32 `json:"time_min,omitempty"`
	Priority     *uint32 `json:"priority,omitempty"`
	Nice         *int32  `json:"nice,omitempty"`
	NumTasks     *uint32 `json:"num_tasks,omitempty"`
	MinNodes     *uint32 `json:"min_nodes,omitempty"`
	MaxNodes     *uint32 `json:"max_nodes,omitempty"`
	PnMinMemory  *uint64 `json:"pn_min_memory,omitempty"`
	PnMinCPUs    *uint16 `json:"pn_min_cpus,omitempty"`
	TmpDiskMB    *int64  `json:"pn_min_tmp_disk,omitempty"`
	Partition    *string `json:"partition,omitempty"`
	QoS          *string `json:"qos,omitempty"`
	Account      *string `json:"account,omitempty"`
	Reservation  *string `json:"reservation,omitempty"`
	WCKey        *string `json:"wckey,omitempty"`
	Dependency   *string `json:"dependency,omitempty"`
	Name         *string `json:"name,omitempty"`
	Comment      *string `json:"comment,omitempty"`
	AdminComment *string `json:"admin_comment,omitempty"`
	Features     *string `json:"features,omitempty"`
	Gres         *string `json:"tres_per_node,omitempty"`
	Licenses     *string `json:"licenses,omitempty"`
	ReqNodes     *string `json:"req_nodes,omitempty"`
	ExcNodes     *string `json:"exc_nodes,omitempty"`
	BeginTime    *string `json:"begin_time,omitempty"`
	Deadline     *string `json:"deadline,omitempty"`
	MailType     *uint16 `json:"mail_type,omitempty"`
	MailUser     *string `json:"mail_user,omitempty"`
	Requeue      *bool   `json:"requeue,omitempty"`
	Hold         *bool   `json:"hold,omitempty"`

	UserID uint32 `json:"user_id,omitempty"` // effective-uid override
}

// errorEnvelope is the controller's error body.
type errorEnvelope struct {
	Error string `json:"error"`
	Errno string `json:"errno"`
}
